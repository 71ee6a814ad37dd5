package compact

import (
	"context"
	"os"
	"testing"

	"github.com/ValentinKolb/kvsd/lib/core"
	"github.com/ValentinKolb/kvsd/lib/store"
	"github.com/ValentinKolb/kvsd/lib/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		in      string
		want    store.TableRef
		wantErr bool
	}{
		{in: "default/default", want: store.TableRef{Namespace: "default", Table: "default"}},
		{in: "app/users", want: store.TableRef{Namespace: "app", Table: "users"}},
		{in: "users", wantErr: true},
		{in: "/users", wantErr: true},
		{in: "app/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseRef(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompactAll(t *testing.T) {
	root := t.TempDir()
	ref := store.TableRef{Namespace: "app", Table: "users"}
	for _, r := range []store.TableRef{{}, ref} {
		require.NoError(t, os.MkdirAll(core.TableDir(root, r), 0755))
	}

	c, err := core.New(core.Options{RootDir: root})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	v, err := value.FromString("v")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, c.Set(context.Background(), ref, "k", v))
	}

	// all tables
	require.NoError(t, compactAll(context.Background(), c, nil))

	infos, err := c.Tables(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	for _, info := range infos {
		if info.Name == ref.String() {
			assert.Equal(t, 1, info.Entries)
		}
	}

	// unknown table
	err = compactAll(context.Background(), c, []store.TableRef{{Namespace: "nope", Table: "nope"}})
	assert.Equal(t, store.RetCTableNotFound, store.CodeOf(err))

	cancel()
	require.NoError(t, <-done)
}
