package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/plexbridge/plexbridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format.

With no config file present this shows the built-in defaults, so the
output can seed a configuration template:

  plexbridge config dump > config.yaml

Configuration is layered: config file, then PLEXBRIDGE_* environment
variables (PLEXBRIDGE_SERVER_HTTP_PORT, PLEXBRIDGE_PATHS_DATA_DIR, ...),
then command-line flags.`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags,
// rendering durations and byte sizes in their parseable string forms.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = typ.Field(i).Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = v.String()
		case config.ByteSize:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# plexbridge configuration")
	fmt.Println("#")
	fmt.Println("# Duration format: 30s, 5m, 1h. Size format: 100MB, 1.5GB.")
	fmt.Println("# Environment overrides use the PLEXBRIDGE_ prefix with")
	fmt.Println("# underscores for nesting, e.g. PLEXBRIDGE_SERVER_HTTP_PORT.")
	fmt.Println("")
	fmt.Print(string(yamlData))
	return nil
}
