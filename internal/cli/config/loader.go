package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	intconfig "github.com/leapstack-labs/leapmesh/internal/config"
	"github.com/spf13/pflag"
)

// Flag names read directly while resolving settings. Every other changed
// flag is layered into the project configuration by key.
const (
	FlagProjectDir = "project-dir"
	FlagOutput     = "output"
)

// Load resolves the settings for one invocation. flags are the root
// persistent flags; the logger writes to logOut.
func Load(flags *pflag.FlagSet, logOut io.Writer) (*Settings, error) {
	root, err := projectRoot(flags)
	if err != nil {
		return nil, err
	}

	cfg, err := intconfig.Load(root, intconfig.Options{Flags: flags})
	if err != nil {
		return nil, err
	}

	var format string
	if flags != nil {
		format, _ = flags.GetString(FlagOutput)
	}
	mode, err := output.ParseMode(format)
	if err != nil {
		return nil, err
	}

	logger, err := NewLogger(logOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid log configuration: %w", err)
	}

	files := append(intconfig.ConfigFiles(intconfig.GlobalDir()), intconfig.ConfigFiles(root)...)
	return &Settings{
		ProjectDir:  root,
		ConfigFiles: files,
		Output:      mode,
		Project:     cfg,
		Logger:      logger,
	}, nil
}

// projectRoot returns --project-dir when given, else the nearest directory
// above the working directory holding a config file, else the working
// directory itself.
func projectRoot(flags *pflag.FlagSet) (string, error) {
	if flags != nil && flags.Changed(FlagProjectDir) {
		dir, _ := flags.GetString(FlagProjectDir)
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", fmt.Errorf("invalid project directory %s: %w", dir, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", fmt.Errorf("project directory does not exist: %s", dir)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("project directory is not a directory: %s", dir)
		}
		return abs, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if root := intconfig.FindProjectRoot(cwd); root != "" {
		return root, nil
	}
	return cwd, nil
}
