package core

import (
	"github.com/ValentinKolb/kvsd/lib/store"
	"github.com/ValentinKolb/kvsd/lib/table"
	"github.com/ValentinKolb/kvsd/lib/value"
)

type op uint8

const (
	opSet op = iota + 1
	opGet
	opDelete
	opTables
	opCompact
)

// request is one unit of work for the actor. reply is buffered with capacity one.
type request struct {
	op    op
	ref   store.TableRef
	key   string
	value *value.Value
	reply chan reply
}

type reply struct {
	value *value.Value
	infos []table.Info
	err   error
}
