// Copyright 2026 Axon Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command mcpbridge runs the tool-invocation bridge.
//
// Usage:
//
//	mcpbridge run --config bridge.yaml
//	mcpbridge tools --config bridge.yaml
//	mcpbridge call --config bridge.yaml --target mongodb --tool find_documents --params '{"collection":"documents"}'
//	mcpbridge validate --config bridge.yaml
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/axonlabs/mcpbridge/pkg/config"
	"github.com/axonlabs/mcpbridge/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Run      RunCmd      `cmd:"" help:"Run the bridge."`
	Tools    ToolsCmd    `cmd:"" help:"Connect backends and list their tool catalogs."`
	Call     CallCmd     `cmd:"" help:"Dispatch a single tool call."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"bridge.yaml"`
	EnvFile   string `name:"env-file" help:"Path to .env file." default:".env"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)." default:"simple"`
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("mcpbridge"),
		kong.Description("Bridge between a chat host and external tool backends."),
		kong.UsageOnError(),
	)

	cleanup, err := initLogging(cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := config.LoadDotEnv(cli.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load env file: %v\n", err)
		os.Exit(1)
	}

	kctx.FatalIfErrorf(kctx.Run(cli))
}

func initLogging(cli *CLI) (func(), error) {
	level, _ := logger.ParseLevel(cli.LogLevel)

	output := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		file, closeFile, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, err
		}
		output = file
		cleanup = closeFile
	}

	logger.Init(level, output, cli.LogFormat)
	return cleanup, nil
}

func loadConfig(path string) (*config.Config, error) {
	loader, err := config.NewLoader(config.LoaderOptions{Path: path})
	if err != nil {
		return nil, err
	}
	return loader.Load()
}
