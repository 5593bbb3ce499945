// contentrex/cmd/rexc/main.go

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"rgehrsitz/contentrex/pkg/compiler"
	"rgehrsitz/contentrex/pkg/logging"
	"rgehrsitz/contentrex/pkg/store"
	"rgehrsitz/contentrex/pkg/validator"
)

// Config represents the compiler configuration
type Config struct {
	RulesFile      string `validate:"required"`
	ExtensionID    string `validate:"required"`
	OutputKind     string `validate:"oneof=file redis"`
	OutputPath     string `validate:"required_if=OutputKind file"`
	MaxNFASize     int    `validate:"gt=0"`
	SmallDFASize   int    `validate:"gt=0"`
	LogLevel       string `validate:"oneof=trace debug info warn error fatal panic disabled"`
	LogDestination string `validate:"oneof=console file"`
	RedisAddress   string `validate:"required_if=OutputKind redis"`
	RedisPassword  string
	RedisDB        int `validate:"gte=0"`
	RedisChannel   string
	Watch          bool
}

// StoreFactory is an interface for creating a store
type StoreFactory interface {
	NewStore(ctx context.Context, addr, password string, db int, channel string) (store.Store, error)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args, &RealStoreFactory{}); err != nil {
		log.Fatal().Err(err).Msg("Compilation failed")
	}
}

func run(ctx context.Context, args []string, storeFactory StoreFactory) error {
	config, err := parseConfig(args)
	if err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := logging.ConfigureLogger(config.LogLevel, config.LogDestination); err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}

	newClient, release, err := setupOutput(ctx, config, storeFactory)
	if err != nil {
		return fmt.Errorf("failed to setup output: %w", err)
	}
	defer release()

	compile := func() error {
		return compileRules(config, newClient())
	}
	if err := compile(); err != nil {
		return err
	}
	if !config.Watch {
		return nil
	}
	return watchRules(ctx, config.RulesFile, compile)
}

func compileRules(config *Config, client compiler.Client) error {
	ruleJSON, err := os.ReadFile(config.RulesFile)
	if err != nil {
		return fmt.Errorf("failed to read rule list: %w", err)
	}

	start := time.Now()
	opts := compiler.Options{MaxNFASize: config.MaxNFASize, SmallDFASize: config.SmallDFASize}
	if err := compiler.CompileRuleList(client, ruleJSON, opts); err != nil {
		return err
	}

	logging.Logger.Info().
		Str("id", config.ExtensionID).
		Str("rules_file", config.RulesFile).
		Str("output", config.OutputKind).
		Dur("elapsed", time.Since(start)).
		Msg("Compiled rule list")
	return nil
}

// watchRules recompiles whenever the rule list is written or replaced, until
// ctx is done. Failed recompilations are logged and leave the last output in
// place.
func watchRules(ctx context.Context, rulesFile string, compile func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch its directory.
	if err := watcher.Add(filepath.Dir(rulesFile)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", rulesFile, err)
	}
	target := filepath.Clean(rulesFile)
	logging.Logger.Info().Str("rules_file", rulesFile).Msg("Watching rule list for changes")

	for {
		select {
		case <-ctx.Done():
			logging.Logger.Info().Msg("Stopped watching rule list")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			logging.Logger.Debug().Str("op", event.Op.String()).Msg("Rule list changed")
			if err := compile(); err != nil {
				logging.Logger.Error().Err(err).Msg("Recompilation failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func parseConfig(args []string) (*Config, error) {
	flags := flag.NewFlagSet(args[0], flag.ContinueOnError)
	configFile := flags.String("config", "", "Path to configuration file")
	rulesFile := flags.String("rules", "", "Rule list to compile, overrides rules_file")
	output := flags.String("output", "", "Output kind (file or redis), overrides output.kind")
	watch := flags.Bool("watch", false, "Recompile whenever the rule list changes")
	if err := flags.Parse(args[1:]); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("contentrex")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("watch", false)
	v.SetDefault("output.kind", "file")
	v.SetDefault("compiler.max_nfa_size", compiler.MaxNFASize)
	v.SetDefault("compiler.small_dfa_size", compiler.SmallDFASize)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "console")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.channel", store.DefaultChannel)

	if *configFile == "" {
		v.SetConfigName("rexc_config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.contentrex")
		v.AddConfigPath("/etc/contentrex")
	} else {
		v.SetConfigFile(*configFile)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || *configFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No configuration file found, using defaults")
	}

	if *rulesFile != "" {
		v.Set("rules_file", *rulesFile)
	}
	if *output != "" {
		v.Set("output.kind", *output)
	}
	if *watch {
		v.Set("watch", true)
	}

	config := &Config{
		RulesFile:      v.GetString("rules_file"),
		ExtensionID:    v.GetString("extension_id"),
		OutputKind:     v.GetString("output.kind"),
		OutputPath:     v.GetString("output.path"),
		MaxNFASize:     v.GetInt("compiler.max_nfa_size"),
		SmallDFASize:   v.GetInt("compiler.small_dfa_size"),
		LogLevel:       v.GetString("logging.level"),
		LogDestination: v.GetString("logging.output"),
		RedisAddress:   v.GetString("redis.address"),
		RedisPassword:  v.GetString("redis.password"),
		RedisDB:        v.GetInt("redis.database"),
		RedisChannel:   v.GetString("redis.channel"),
		Watch:          v.GetBool("watch"),
	}
	if config.RulesFile == "" {
		return nil, errors.New("no rule list given, set rules_file or pass -rules")
	}

	base := strings.TrimSuffix(filepath.Base(config.RulesFile), filepath.Ext(config.RulesFile))
	if config.ExtensionID == "" {
		config.ExtensionID = base
	}
	if config.OutputPath == "" {
		config.OutputPath = filepath.Join(filepath.Dir(config.RulesFile), base+".crxb")
	}
	if err := validator.ValidateStruct(config); err != nil {
		return nil, err
	}
	return config, nil
}

// setupOutput returns a constructor for the sink selected by output.kind and
// a function that releases what the sinks share.
func setupOutput(ctx context.Context, config *Config, storeFactory StoreFactory) (func() compiler.Client, func(), error) {
	switch config.OutputKind {
	case "file":
		return func() compiler.Client { return compiler.NewFileClient(config.OutputPath) }, func() {}, nil
	case "redis":
		st, err := storeFactory.NewStore(ctx, config.RedisAddress, config.RedisPassword, config.RedisDB, config.RedisChannel)
		if err != nil {
			return nil, nil, err
		}
		release := func() {}
		if closer, ok := st.(interface{ Close() error }); ok {
			release = func() { closer.Close() }
		}
		return func() compiler.Client { return store.NewClient(ctx, st, config.ExtensionID) }, release, nil
	}
	return nil, nil, fmt.Errorf("unknown output kind %q", config.OutputKind)
}

// RealStoreFactory implements StoreFactory
type RealStoreFactory struct{}

func (f *RealStoreFactory) NewStore(ctx context.Context, addr, password string, db int, channel string) (store.Store, error) {
	return store.NewRedisStore(ctx, addr, password, db, channel)
}
