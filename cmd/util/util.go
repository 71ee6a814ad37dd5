package util

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ValentinKolb/kvsd/rpc/common"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("cmd")

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (e.g. KVSD_ROOT_DIR)
	EnvPrefix = "kvsd"
)

// ConfigFile is the path of the optional YAML config file (--config)
var ConfigFile string

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files, the config file (if any) and sets up the
// environment variable lookup
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	if ConfigFile != "" {
		viper.SetConfigFile(ConfigFile)
		if err := viper.ReadInConfig(); err != nil {
			Logger.Errorf("failed to read config file %s: %v", ConfigFile, err)
		}
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// SetupLogFlag adds the log level and log file flags to a command
func SetupLogFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log-level", "info", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error). Components can be set on their own, e.g. warn,server=debug"))
	cmd.PersistentFlags().String("log-file", "", WrapString("Append logs to this file instead of stderr"))
}

// InitLogging applies the configured log level and output
func InitLogging() error {
	if path := viper.GetString("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		common.SetLogOutput(f)
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

// SetupRootDirFlag adds the data directory flag to a command
func SetupRootDirFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().String("root-dir", "data", WrapString("The root directory of the daemon. Tables are stored in <root-dir>/namespaces/<namespace>/<table>"))
}

// --------------------------------------------------------------------------
// Client configuration
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "endpoint"
	cmd.PersistentFlags().String(key, "localhost:7379", WrapString("The address of the kvsd server"))

	key = "username"
	cmd.PersistentFlags().String(key, "", WrapString("The username to authenticate with"))

	key = "password"
	cmd.PersistentFlags().String(key, "", WrapString("The password to authenticate with (prefer the KVSD_PASSWORD environment variable)"))

	key = "max-message-size"
	cmd.PersistentFlags().String(key, "64M", WrapString("Largest reply the client accepts, e.g. 64M or 256M. Raise it when the server runs with a larger --max-value-size"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, 0 = system default)"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() (*common.ClientConfig, error) {
	maxMessageSize, err := common.ParseSize(viper.GetString("max-message-size"))
	if err != nil {
		return nil, err
	}

	return &common.ClientConfig{
		Endpoint:       viper.GetString("endpoint"),
		TimeoutSecond:  viper.GetInt("timeout"),
		Username:       viper.GetString("username"),
		Password:       viper.GetString("password"),
		MaxMessageSize: maxMessageSize,
		TCPConf: common.TCPConf{
			TCPNoDelay:      viper.GetBool("tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
		},
	}, nil
}

// --------------------------------------------------------------------------
// Users
// --------------------------------------------------------------------------

// ParseUsers reads the configured users. The config file holds a map
// (username: secret), flags and environment variables a list of username:secret
// pairs.
func ParseUsers(raw interface{}) (map[string]string, error) {
	users := make(map[string]string)

	switch v := raw.(type) {
	case nil:
		return users, nil
	case map[string]interface{}:
		for name, secret := range v {
			users[name] = fmt.Sprint(secret)
		}
		return users, nil
	case map[string]string:
		for name, secret := range v {
			users[name] = secret
		}
		return users, nil
	case string:
		return parseUserList(strings.Split(v, ","), users)
	case []string:
		return parseUserList(v, users)
	case []interface{}:
		list := make([]string, 0, len(v))
		for _, item := range v {
			list = append(list, fmt.Sprint(item))
		}
		return parseUserList(list, users)
	default:
		return nil, fmt.Errorf("invalid users configuration of type %T", raw)
	}
}

func parseUserList(list []string, users map[string]string) (map[string]string, error) {
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, secret, ok := strings.Cut(entry, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid user %q (expected username:password)", entry)
		}
		users[name] = secret
	}
	return users, nil
}

// UserNames returns the sorted user names
func UserNames(users map[string]string) []string {
	names := make([]string, 0, len(users))
	for name := range users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
