package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/garyhukkeri/vectab/internal/config"
	"github.com/garyhukkeri/vectab/internal/connect"
	"github.com/garyhukkeri/vectab/internal/embed"
	"github.com/garyhukkeri/vectab/internal/orchestrate"
	"github.com/garyhukkeri/vectab/internal/search"
	"github.com/garyhukkeri/vectab/internal/storage"
	"github.com/garyhukkeri/vectab/internal/tableops"
	"github.com/garyhukkeri/vectab/internal/tabular"
	"github.com/garyhukkeri/vectab/internal/version"
	"github.com/garyhukkeri/vectab/internal/web"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "vectab",
	Short:   "Tables with embeddings and similarity search",
	Version: version.Full(),
	Long: `vectab manages tables of structured data, generates embedding
columns from their text fields, and answers similarity queries
over them.

Databases live in a local directory or behind an s3:// location.
Embeddings come from Ollama, OpenAI, or a deterministic offline
provider.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vectab %s\n", version.Version)
		fmt.Printf("  commit:  %s\n", version.Commit)
		fmt.Printf("  built:   %s\n", version.Date)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize vectab in the current directory",
	Long: `Initialize a vectab project in the current directory. This
creates a .vectab directory with the configuration file and an empty
database.`,
	RunE: runInit,
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List tables with row counts",
	RunE:  runTables,
}

var createCmd = &cobra.Command{
	Use:   "create <table> [file]",
	Short: "Create a table from a CSV, JSON, or Parquet file",
	Long: `Create a table from a data file. Column types are inferred from
the data: numbers, booleans, text, and fixed-length numeric lists
become vector columns.

With --sample, a small generated demo table is created instead of
reading a file.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCreate,
}

var replaceCmd = &cobra.Command{
	Use:   "replace <table> <file>",
	Short: "Atomically replace a table's contents",
	Long: `Replace a table with entirely new contents from a data file. The
new data is staged first and swapped in atomically, so a failed load
leaves the original table untouched.`,
	Args: cobra.ExactArgs(2),
	RunE: runReplace,
}

var dropCmd = &cobra.Command{
	Use:   "drop <table>",
	Short: "Delete a table",
	Args:  cobra.ExactArgs(1),
	RunE:  runDrop,
}

var schemaCmd = &cobra.Command{
	Use:   "schema <table>",
	Short: "Show a table's schema and vector columns",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchema,
}

var statsCmd = &cobra.Command{
	Use:   "stats <table>",
	Short: "Show row counts and vector coverage",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

var previewCmd = &cobra.Command{
	Use:   "preview <table>",
	Short: "Show a page of rows",
	Args:  cobra.ExactArgs(1),
	RunE:  runPreview,
}

var deleteRowsCmd = &cobra.Command{
	Use:   "delete-rows <table>",
	Short: "Delete rows matching filters",
	Long: `Delete the rows matching every --where filter. Filters compare a
scalar field against a literal:

  vectab delete-rows products --where "price>100" --where "active=false"`,
	Args: cobra.ExactArgs(1),
	RunE: runDeleteRows,
}

var embedCmd = &cobra.Command{
	Use:   "embed <table>",
	Short: "Generate an embedding column from text fields",
	Long: `Generate embeddings for every row by concatenating the selected
source fields and storing the vectors in a new column. Rows whose
embedding fails keep a null vector and are reported; the rest of the
run continues.

Examples:
  vectab embed products --fields title,description --column title_vec
  vectab embed products --fields title --column title_vec --model hash-384
  vectab embed products --fields title --column title_vec --only-missing`,
	Args: cobra.ExactArgs(1),
	RunE: runEmbed,
}

var searchCmd = &cobra.Command{
	Use:   "search <table> <query>",
	Short: "Search a vector column by similarity",
	Long: `Embed the query with the model that generated the target column
and return the closest rows with relevance scores in [0, 1].

Examples:
  vectab search products "wireless headphones" --column title_vec
  vectab search products "cheap and cheerful" --column title_vec --where "price<20"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSearch,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the embedding model registry",
	RunE:  runModels,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	rootCmd.SetVersionTemplate("vectab version {{.Version}}\n")

	rootCmd.PersistentFlags().StringP("location", "l", "", "database location (local dir or s3:// URI)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().Bool("json", false, "print results as JSON")

	_ = viper.BindPFlag("location", rootCmd.PersistentFlags().Lookup("location"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	createCmd.Flags().Int("sample", 0, "create a generated sample table with N rows")
	createCmd.Flags().String("columns", "", "comma-separated column names for --sample")

	previewCmd.Flags().Int("offset", 0, "first row to show")
	previewCmd.Flags().Int("limit", 20, "rows per page")

	deleteRowsCmd.Flags().StringArray("where", nil, "filter, e.g. \"price>100\" (repeatable)")

	embedCmd.Flags().String("fields", "", "comma-separated source fields (required)")
	embedCmd.Flags().String("column", "", "target vector column (required)")
	embedCmd.Flags().String("model", "", "embedding model from the registry")
	embedCmd.Flags().String("delimiter", " ", "delimiter between concatenated fields")
	embedCmd.Flags().Bool("overwrite", false, "replace a conflicting existing column")
	embedCmd.Flags().Bool("only-missing", false, "embed only rows without a vector")
	embedCmd.Flags().Int("batch-size", 0, "rows per provider call")
	_ = embedCmd.MarkFlagRequired("fields")
	_ = embedCmd.MarkFlagRequired("column")

	searchCmd.Flags().String("column", "", "vector column to search (required)")
	searchCmd.Flags().IntP("top-k", "k", 10, "number of results")
	searchCmd.Flags().StringArray("where", nil, "pre-filter, e.g. \"active=true\" (repeatable)")
	_ = searchCmd.MarkFlagRequired("column")

	serveCmd.Flags().String("host", "", "bind address")
	serveCmd.Flags().Int("port", 0, "port")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(replaceCmd)
	rootCmd.AddCommand(dropCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(deleteRowsCmd)
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(serveCmd)
}

// app bundles the wired services for one command invocation.
type app struct {
	cfg      *config.Config
	provider *connect.Provider
	engine   storage.Engine
	tables   *tableops.Service
	orch     *orchestrate.Orchestrator
	searcher *search.Engine
	registry *embed.Registry
	logger   *slog.Logger
}

// setup loads configuration, connects to the database, and wires the
// services. Callers must defer app.close.
func setup(cmd *cobra.Command) (*app, error) {
	logger := newLogger(cmd)
	slog.SetDefault(logger)

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return nil, err
	}

	location, _ := cmd.Flags().GetString("location")
	if location == "" {
		location = cfg.Location
	}

	creds, err := connect.LoadCredentials()
	if err != nil {
		return nil, err
	}

	provider := connect.NewProvider(creds, storage.Options{
		AnnThreshold:  cfg.Storage.AnnThreshold,
		OpenRetries:   cfg.Storage.OpenRetries,
		RetryInterval: time.Duration(cfg.Storage.RetryIntervalMS) * time.Millisecond,
	}, logger)

	conn, err := provider.Connect(cmd.Context(), location)
	if err != nil {
		return nil, err
	}

	registry := embed.NewRegistry(cfg.RegistryConfig())
	policy := tabular.VectorPolicy{
		MinLength:      cfg.Inference.MinVectorLength,
		RequireUniform: cfg.Inference.RequireUniform,
	}

	return &app{
		cfg:      cfg,
		provider: provider,
		engine:   conn.Engine,
		tables:   tableops.New(conn.Engine, policy, logger),
		orch:     orchestrate.New(conn.Engine, logger),
		searcher: search.New(conn.Engine, registry, logger),
		registry: registry,
		logger:   logger,
	}, nil
}

// close flushes and closes the connection, uploading remote databases.
func (a *app) close(ctx context.Context) {
	if err := a.provider.Close(ctx); err != nil {
		a.logger.Warn("close failed", "error", err)
	}
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jsonOutput(cmd *cobra.Command) bool {
	j, _ := cmd.Flags().GetBool("json")
	return j
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(cwd, config.DefaultDataDir)
	cfg.Location = cfg.DataDir
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if err := cfg.WriteDefaultConfig(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	loc, err := connect.ParseLocation(cfg.Location)
	if err != nil {
		return err
	}
	engine, err := storage.OpenSQLite(loc.DatabasePath(), storage.Options{})
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Printf("Initialized vectab in %s\n", cfg.DataDir)
	fmt.Printf("  Database: %s\n", loc.DatabasePath())
	fmt.Printf("  Default model: %s\n", cfg.Embedding.DefaultModel)
	fmt.Printf("\nRun 'vectab create <table> <file>' to load data.\n")
	return nil
}

func runTables(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	listings, err := a.tables.List(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(listings)
	}
	if len(listings) == 0 {
		fmt.Println("No tables.")
		return nil
	}
	for _, l := range listings {
		marker := ""
		if l.HasVectors {
			marker = "  [vectors]"
		}
		fmt.Printf("%-30s %8d rows%s\n", l.Name, l.Rows, marker)
	}
	return nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	name := args[0]
	sample, _ := cmd.Flags().GetInt("sample")

	var schema tabular.Schema
	switch {
	case sample > 0:
		columns, _ := cmd.Flags().GetString("columns")
		schema, err = a.tables.CreateSample(cmd.Context(), name, splitList(columns), sample)
	case len(args) == 2:
		schema, err = a.tables.CreateFromFile(cmd.Context(), name, args[1], tableops.CreateOptions{})
	default:
		return fmt.Errorf("either a data file or --sample is required")
	}
	if err != nil {
		return err
	}

	fmt.Printf("Created table %q\n", name)
	printSchema(schema)
	return nil
}

func runReplace(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	schema, err := a.tables.ReplaceFromFile(cmd.Context(), args[0], args[1], tableops.CreateOptions{})
	if err != nil {
		return err
	}
	fmt.Printf("Replaced table %q\n", args[0])
	printSchema(schema)
	return nil
}

func runDrop(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	if err := a.tables.Drop(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Dropped table %q\n", args[0])
	return nil
}

func runSchema(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	info, err := a.tables.Describe(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(info)
	}

	fmt.Printf("Table %q (%d rows)\n", info.Name, info.Rows)
	printSchema(info.Schema)
	for _, meta := range info.VectorColumns {
		if meta.Model != "" {
			fmt.Printf("  %s: %s from %s\n", meta.Column, meta.Model, strings.Join(meta.SourceFields, ", "))
		}
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	stats, err := a.tables.Stats(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(stats)
	}

	fmt.Printf("Table %q: %d rows\n", stats.Table, stats.Rows)
	for _, c := range stats.Columns {
		fmt.Printf("  %-20s dim %-5d %d/%d rows embedded\n", c.Column, c.Dimension, c.Populated, c.Populated+c.Missing)
	}
	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	offset, _ := cmd.Flags().GetInt("offset")
	limit, _ := cmd.Flags().GetInt("limit")

	page, err := a.tables.Preview(cmd.Context(), args[0], offset, limit)
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(page)
	}

	fmt.Printf("Rows %d-%d of %d\n", page.Offset+1, page.Offset+len(page.Rows), page.Total)
	for _, row := range page.Rows {
		parts := make([]string, len(page.Fields))
		for i, f := range page.Fields {
			parts[i] = fmt.Sprintf("%s=%v", f, row[f])
		}
		fmt.Println("  " + strings.Join(parts, "  "))
	}
	return nil
}

func runDeleteRows(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	wheres, _ := cmd.Flags().GetStringArray("where")
	filter, err := parseFilters(wheres)
	if err != nil {
		return err
	}
	if filter.Empty() {
		return fmt.Errorf("at least one --where filter is required")
	}

	n, err := a.tables.DeleteRows(cmd.Context(), args[0], filter)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d rows from %q\n", n, args[0])
	return nil
}

func runEmbed(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	fields, _ := cmd.Flags().GetString("fields")
	column, _ := cmd.Flags().GetString("column")
	model, _ := cmd.Flags().GetString("model")
	delimiter, _ := cmd.Flags().GetString("delimiter")
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	onlyMissing, _ := cmd.Flags().GetBool("only-missing")
	batchSize, _ := cmd.Flags().GetInt("batch-size")

	if model == "" {
		model = a.cfg.Embedding.DefaultModel
	}
	if batchSize == 0 {
		batchSize = a.cfg.Embedding.BatchSize
	}
	provider, err := a.registry.Get(model)
	if err != nil {
		return err
	}

	a.orch.SetProgressCallback(func(p orchestrate.Progress) {
		fmt.Fprintf(os.Stderr, "\rEmbedding %d/%d rows (%d failed)", p.RowsDone, p.RowsTotal, p.RowsFailed)
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := a.orch.Generate(ctx, orchestrate.Spec{
		Table:        args[0],
		SourceFields: splitList(fields),
		TargetColumn: column,
		Delimiter:    delimiter,
		Overwrite:    overwrite,
		OnlyMissing:  onlyMissing,
		BatchSize:    batchSize,
	}, provider)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	if jsonOutput(cmd) {
		return printJSON(result)
	}
	fmt.Printf("Column %q: %d rows embedded with %s (dim %d), %d failed, status %s\n",
		result.Column, result.RowsProcessed, model, result.Dimension, result.RowsFailed, result.Status)
	for _, f := range result.Failures {
		fmt.Printf("  row %d: %s\n", f.RowID, f.Err)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	column, _ := cmd.Flags().GetString("column")
	topK, _ := cmd.Flags().GetInt("top-k")
	wheres, _ := cmd.Flags().GetStringArray("where")
	filter, err := parseFilters(wheres)
	if err != nil {
		return err
	}

	resp, err := a.searcher.Search(cmd.Context(), search.Request{
		Table:  args[0],
		Column: column,
		Query:  strings.Join(args[1:], " "),
		TopK:   topK,
		Filter: filter,
	})
	if err != nil {
		return err
	}

	if jsonOutput(cmd) {
		return printJSON(resp)
	}
	if len(resp.Matches) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, m := range resp.Matches {
		fmt.Printf("%2d. score %.3f  row %d\n", m.Rank, m.Score, m.RowID)
		for k, v := range m.Values {
			fmt.Printf("      %s: %v\n", k, v)
		}
	}
	return nil
}

func runModels(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return err
	}
	registry := embed.NewRegistry(cfg.RegistryConfig())

	models := registry.Models()
	if jsonOutput(cmd) {
		return printJSON(models)
	}
	for _, m := range models {
		def := ""
		if m.Name == cfg.Embedding.DefaultModel {
			def = "  (default)"
		}
		fmt.Printf("%-28s %-8s dim %-6d %s%s\n", m.Name, m.Provider, m.Dimensions, m.Description, def)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}

	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	if host == "" {
		host = a.cfg.Server.Host
	}
	if port == 0 {
		port = a.cfg.Server.Port
	}

	cwd, _ := os.Getwd()
	if err := config.Watch(cwd, a.logger, func(cfg *config.Config) {
		a.logger.Info("configuration updated, restart to apply storage changes")
	}); err != nil {
		a.logger.Warn("config watch unavailable", "error", err)
	}

	server := web.NewServer(web.ServerConfig{
		Host:         host,
		Port:         port,
		Tables:       a.tables,
		Orchestrator: a.orch,
		Searcher:     a.searcher,
		Registry:     a.registry,
		Logger:       a.logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	fmt.Printf("vectab API on http://%s:%d\n", host, port)
	select {
	case err := <-errCh:
		a.close(context.Background())
		return err
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
		a.close(context.Background())
		return nil
	}
}

func printSchema(schema tabular.Schema) {
	for _, f := range schema {
		if f.IsVector() {
			fmt.Printf("  %-20s vector(%d)\n", f.Name, f.Dimension)
			continue
		}
		fmt.Printf("  %-20s %s\n", f.Name, f.Type)
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseFilters turns "field<op>value" strings into a predicate. Values
// that parse as numbers or booleans are compared as such.
func parseFilters(exprs []string) (*tabular.Predicate, error) {
	p := &tabular.Predicate{}
	ops := []string{"!=", "<=", ">=", "=", "<", ">"}
	for _, expr := range exprs {
		matched := false
		for _, op := range ops {
			idx := strings.Index(expr, op)
			if idx <= 0 {
				continue
			}
			field := strings.TrimSpace(expr[:idx])
			raw := strings.TrimSpace(expr[idx+len(op):])
			p.And(field, tabular.Op(op), parseLiteral(raw))
			matched = true
			break
		}
		if !matched {
			return nil, fmt.Errorf("cannot parse filter %q (want field=value)", expr)
		}
	}
	return p, nil
}

func parseLiteral(raw string) any {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return strings.Trim(raw, `"'`)
}
