// sleuth is the command-line front end of the bytecode analysis engine.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/fatih/color"
	"github.com/naoina/toml"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/evmsleuth/sleuth/analyzer"
	"github.com/evmsleuth/sleuth/core/cfg"
	"github.com/evmsleuth/sleuth/core/disasm"
	"github.com/evmsleuth/sleuth/core/report"
	"github.com/evmsleuth/sleuth/core/tracker"
	"github.com/evmsleuth/sleuth/fetcher"
)

var (
	hexFlag = &cli.StringFlag{
		Name:  "hex",
		Usage: "contract bytecode as hex (with or without 0x prefix)",
	}
	fileFlag = &cli.StringFlag{
		Name:  "file",
		Usage: "path to a file containing contract bytecode hex",
	}
	addressFlag = &cli.StringFlag{
		Name:  "address",
		Usage: "contract address to fetch code for (requires --rpc)",
	}
	rpcFlag = &cli.StringFlag{
		Name:  "rpc",
		Usage: "RPC endpoint used with --address",
	}
	layoutFlag = &cli.StringFlag{
		Name:  "layout",
		Usage: "path to a solc storageLayout JSON manifest",
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "emit the full report as JSON instead of a findings table",
	}
	dirFlag = &cli.StringFlag{
		Name:  "dir",
		Usage: "analyze every *.hex file in the directory as a batch",
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "per-invocation analysis deadline",
		Value: 30 * time.Second,
	}
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML file overriding the analysis bounds",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "log verbosity (0=silent, 3=info, 5=trace)",
		Value: 2,
	}
	outFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "output file (cfgdraw); stdout when omitted",
	}
)

func main() {
	app := &cli.App{
		Name:  "sleuth",
		Usage: "static bytecode analysis for EVM contract deception patterns",
		Flags: []cli.Flag{verbosityFlag},
		Before: func(c *cli.Context) error {
			handler := log.NewTerminalHandlerWithLevel(os.Stderr,
				log.FromLegacyLevel(c.Int(verbosityFlag.Name)), true)
			log.SetDefault(log.NewLogger(handler))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "analyze",
				Usage:  "run the full analysis pipeline and report findings",
				Flags:  []cli.Flag{hexFlag, fileFlag, addressFlag, rpcFlag, layoutFlag, jsonFlag, dirFlag, timeoutFlag, configFlag},
				Action: runAnalyze,
			},
			{
				Name:   "disasm",
				Usage:  "print the decoded instruction sequence",
				Flags:  []cli.Flag{hexFlag, fileFlag},
				Action: runDisasm,
			},
			{
				Name:   "cfgdraw",
				Usage:  "render the control-flow graph as graphviz DOT",
				Flags:  []cli.Flag{hexFlag, fileFlag, outFlag, configFlag},
				Action: runCfgdraw,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runAnalyze(c *cli.Context) error {
	config, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.Duration(timeoutFlag.Name))
	defer cancel()

	if dir := c.String(dirFlag.Name); dir != "" {
		return analyzeDir(ctx, c, dir, config)
	}

	code, err := loadBytecode(ctx, c)
	if err != nil {
		return err
	}
	contract, err := analyzer.Analyze(ctx, code, config)
	if err != nil {
		return err
	}
	return emit(c, contract.Report())
}

func analyzeDir(ctx context.Context, c *cli.Context, dir string, config *analyzer.Config) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.hex"))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no *.hex files in %s", dir)
	}
	jobs := make([]analyzer.Job, 0, len(paths))
	for _, p := range paths {
		code, err := readHexFile(p)
		if err != nil {
			return err
		}
		jobs = append(jobs, analyzer.Job{Name: filepath.Base(p), Code: code})
	}
	for _, res := range analyzer.AnalyzeBatch(ctx, jobs, config) {
		if res.Err != nil {
			log.Warn("batch entry failed", "job", res.Name, "err", res.Err)
			continue
		}
		fmt.Printf("== %s\n", res.Name)
		if err := emit(c, res.Contract.Report()); err != nil {
			return err
		}
	}
	return nil
}

func runDisasm(c *cli.Context) error {
	code, err := loadBytecode(context.Background(), c)
	if err != nil {
		return err
	}
	fmt.Print(disasm.Disassemble(code))
	return nil
}

func runCfgdraw(c *cli.Context) error {
	config, err := loadConfig(c)
	if err != nil {
		return err
	}
	code, err := loadBytecode(context.Background(), c)
	if err != nil {
		return err
	}
	instructions, _ := disasm.Decode(code)
	graph := cfg.Build(instructions, config.CFG)
	dot := graph.DOT("")
	if out := c.String(outFlag.Name); out != "" {
		return os.WriteFile(out, []byte(dot), 0o644)
	}
	fmt.Print(dot)
	return nil
}

// tomlConfig mirrors analyzer.Config for the bounds a config file may
// override.
type tomlConfig struct {
	CFG   cfg.Limits
	Paths tracker.Limits
}

func loadConfig(c *cli.Context) (*analyzer.Config, error) {
	config := analyzer.DefaultConfig()
	if path := c.String(configFlag.Name); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		overrides := tomlConfig{CFG: config.CFG, Paths: config.Paths}
		if err := toml.NewDecoder(f).Decode(&overrides); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		config.CFG = overrides.CFG
		config.Paths = overrides.Paths
	}
	if path := c.String(layoutFlag.Name); c.IsSet(layoutFlag.Name) && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		layout, err := fetcher.ParseSolcLayout(data)
		if err != nil {
			return nil, err
		}
		config.Layout = layout
	}
	return config, nil
}

func loadBytecode(ctx context.Context, c *cli.Context) ([]byte, error) {
	switch {
	case c.IsSet(hexFlag.Name):
		return decodeHexString(c.String(hexFlag.Name))
	case c.IsSet(fileFlag.Name):
		return readHexFile(c.String(fileFlag.Name))
	case c.IsSet(addressFlag.Name):
		if !c.IsSet(rpcFlag.Name) {
			return nil, fmt.Errorf("--address requires --rpc")
		}
		source, err := fetcher.Dial(ctx, c.String(rpcFlag.Name))
		if err != nil {
			return nil, err
		}
		defer source.Close()
		return source.Code(ctx, common.HexToAddress(c.String(addressFlag.Name)))
	}
	return nil, fmt.Errorf("one of --hex, --file or --address is required")
}

func readHexFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeHexString(string(data))
}

func decodeHexString(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

func emit(c *cli.Context, rep *report.Report) error {
	if c.Bool(jsonFlag.Name) {
		data, err := rep.JSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Printf("contract %s  risk score %d  blocks %d  edges %d  unresolved jumps %d\n",
		rep.ContractID, rep.RiskScore, rep.CFGSummary.BlockCount,
		rep.CFGSummary.EdgeCount, rep.CFGSummary.UnresolvedJumps)
	if rep.Aborted {
		color.Yellow("analysis aborted before completion; findings are partial")
	}
	if len(rep.Findings) == 0 {
		color.Green("no findings")
		return nil
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Severity", "Rule", "Block", "Message"})
	table.SetAutoWrapText(false)
	for _, f := range rep.Findings {
		table.Append([]string{colorSeverity(f.Severity), f.Rule, fmt.Sprintf("%d", f.Block), f.Message})
	}
	table.Render()
	return nil
}

func colorSeverity(s report.Severity) string {
	switch s {
	case report.Critical:
		return color.New(color.FgRed, color.Bold).Sprint(strings.ToUpper(s.String()))
	case report.High:
		return color.RedString(strings.ToUpper(s.String()))
	case report.Medium:
		return color.YellowString(s.String())
	case report.Low:
		return color.CyanString(s.String())
	}
	return s.String()
}
