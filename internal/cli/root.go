package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/decipher/internal/model"
)

const version = "decipher v0.1.0"

var (
	cfgFile string
	verbose bool
	logMode string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "decipher",
	Short: "Decipher - research document library, concept graph and term explainer",
	Long: `Decipher ingests research documents, extracts structured metadata and
key concepts with a language model, and merges them into one shared
concept graph.

Selected terms can be explained at three reading levels
(beginner, standard, expert), grounded in the surrounding document text.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.decipher/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logMode, "log-mode", "", "logger mode: development, production, nop")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log.mode", rootCmd.PersistentFlags().Lookup("log-mode"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads .env, the config file and DECIPHER_* environment variables
func initConfig() {
	// .env is optional
	_ = godotenv.Load()

	if err := registerDefaults(viper.GetViper(), model.DefaultConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Error registering defaults: %v\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(home + "/.decipher")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	bindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// bindEnv maps DECIPHER_INGEST_MAX_BATCH_SIZE to ingest.max_batch_size
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("DECIPHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// optionalKeys are omitted from the marshaled defaults when empty
var optionalKeys = []string{
	"llm.api_key", "llm.base_url",
	"http.http_proxy", "http.https_proxy", "http.no_proxy",
	"neo4j.uri", "neo4j.password", "neo4j.database",
}

// registerDefaults makes every config key known to viper, so that
// AutomaticEnv overrides apply on Unmarshal even without a config file
func registerDefaults(v *viper.Viper, cfg *model.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("unmarshal defaults: %w", err)
	}
	setDefaults(v, "", tree)
	for _, key := range optionalKeys {
		if !v.IsSet(key) {
			v.SetDefault(key, "")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// loadConfig resolves the effective configuration from defaults, file, env and flags
func loadConfig(v *viper.Viper) (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Provider keys follow the conventional variable names
	if cfg.LLM.APIKey == "" {
		switch strings.ToLower(cfg.LLM.Provider) {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic", "claude":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if cfg.LLM.BaseURL == "" && strings.EqualFold(cfg.LLM.Provider, "ollama") {
		cfg.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if cfg.HTTP.HTTPProxy == "" {
		cfg.HTTP.HTTPProxy = os.Getenv("HTTP_PROXY")
	}
	if cfg.HTTP.HTTPSProxy == "" {
		cfg.HTTP.HTTPSProxy = os.Getenv("HTTPS_PROXY")
	}
	if cfg.HTTP.NoProxy == "" {
		cfg.HTTP.NoProxy = os.Getenv("NO_PROXY")
	}

	if _, err := model.ParseLevel(string(cfg.Explain.DefaultLevel)); err != nil {
		return nil, fmt.Errorf("explain.default_level: %w", err)
	}
	if cfg.Ingest.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("ingest.max_batch_size must be positive, got %d", cfg.Ingest.MaxBatchSize)
	}
	return cfg, nil
}
