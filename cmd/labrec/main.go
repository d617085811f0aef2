package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"labrec/internal/config"
	"labrec/internal/domain"
	"labrec/internal/indexsync"
	"labrec/internal/logging"
	"labrec/internal/service"
	"labrec/internal/tui"
)

const usage = `Usage: labrec [--config=labrec.yaml] <command> [flags]

Commands:
  sync       embed the dataset and upsert it into the vector index
  purge      delete every entry from the vector index
  recommend  recommend lab tests for a user
  console    interactive recommendation console
  stats      print vector index statistics
`

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./labrec.yaml or ~/.config/labrec/config.yaml if not provided)")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("invalid log config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	defer a.Close()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "sync":
		err = runSync(ctx, a, args)
	case "purge":
		err = runPurge(ctx, a)
	case "recommend":
		err = runRecommend(ctx, a, args)
	case "console":
		err = runConsole(ctx, a, args)
	case "stats":
		err = runStats(ctx, a)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		a.Close()
		log.Fatalf("%s failed: %v", cmd, err)
	}
}

func runSync(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	data := fs.String("data", "", "dataset path (defaults to dataset.path)")
	_ = fs.Parse(args)

	metrics := indexsync.NewMetrics()
	report, err := a.syncFrom(ctx, *data, metrics)
	if report != nil {
		fmt.Println(report)
		printFailures(os.Stdout, report)
	}
	if mf := a.cfg.Sync.MetricsFile; mf != "" {
		if werr := metrics.WriteTextfile(mf); werr != nil {
			a.logger.Warn("write metrics failed", "path", mf, "err", werr)
		}
	}
	return err
}

func runPurge(ctx context.Context, a *app) error {
	metrics := indexsync.NewMetrics()
	report, err := a.synchronizer().WithMetrics(metrics).DeleteAll(ctx)
	if err != nil {
		return err
	}
	fmt.Println(report)
	if werr := report.Err(); werr != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", werr)
	}
	if mf := a.cfg.Sync.MetricsFile; mf != "" {
		if werr := metrics.WriteTextfile(mf); werr != nil {
			a.logger.Warn("write metrics failed", "path", mf, "err", werr)
		}
	}
	return nil
}

type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ", ") }
func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func runRecommend(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("recommend", flag.ExitOnError)
	user := fs.String("user", "anonymous", "user id")
	var goals, diseases, tests listFlag
	fs.Var(&goals, "goal", "health goal (repeatable)")
	fs.Var(&diseases, "disease", "current disease (repeatable)")
	fs.Var(&tests, "test", "resolve this test name directly instead of asking the LLM (repeatable)")
	_ = fs.Parse(args)
	if len(goals)+len(diseases)+len(tests) == 0 {
		return errors.New("at least one -goal, -disease or -test is required")
	}

	if err := a.warmMemory(ctx); err != nil {
		return err
	}
	svc, err := a.recommender(len(tests) == 0)
	if err != nil {
		return err
	}
	var rec *service.Recommendation
	if len(tests) > 0 {
		rec, err = svc.RecommendCandidates(ctx, *user, tests)
	} else {
		rec, err = svc.Recommend(ctx, domain.UserAttributes{UserID: *user, HealthGoals: goals, CurrentDiseases: diseases})
	}
	if errors.Is(err, domain.ErrNoRecommendations) {
		fmt.Printf("No catalog tests matched for user %s\n", *user)
		return nil
	}
	if err != nil {
		return err
	}
	printRecommendation(os.Stdout, rec)
	return nil
}

func runConsole(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("console", flag.ExitOnError)
	user := fs.String("user", "console", "user id")
	noLLM := fs.Bool("no-llm", false, "disable goals/diseases input")
	_ = fs.Parse(args)

	if err := a.warmMemory(ctx); err != nil {
		return err
	}
	svc, err := a.recommender(!*noLLM)
	if err != nil {
		return err
	}
	m := tui.New(svc, *user, 2*time.Minute)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func runStats(ctx context.Context, a *app) error {
	if err := a.warmMemory(ctx); err != nil {
		return err
	}
	st, err := a.index.DescribeStats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("index=%s entries=%d dimension=%d embedder=%s\n", a.cfg.VectorIndex.Type, st.TotalCount, st.Dimension, a.embedder.Name())
	return nil
}

func printRecommendation(w io.Writer, rec *service.Recommendation) {
	fmt.Fprintf(w, "Recommendations for %s (%d of %d candidates matched)\n\n", rec.UserID, len(rec.Items), len(rec.Candidates))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTEST\tID\tPRICE (AED)\tSAMPLE\tTAT\tMATCH\tCANDIDATE")
	for i, it := range rec.Items {
		r := it.Record
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%s\t%s\t%s %.2f\t%s\n",
			i+1, r.Name, r.ID, r.Price, r.SampleType, r.TAT, it.Kind, it.Score, it.Candidate)
	}
	_ = tw.Flush()
	for i, it := range rec.Items {
		if it.Excerpt != "" {
			fmt.Fprintf(w, "\n%d. %s\n   %s\n", i+1, it.Record.Name, it.Excerpt)
		}
	}
	for _, f := range rec.Failures {
		fmt.Fprintf(w, "\nwarning: %q could not be resolved: %v\n", f.Candidate, f.Err)
	}
}

func printFailures(w io.Writer, report *indexsync.Report) {
	for _, f := range report.Failures {
		fmt.Fprintf(w, "batch %d failed (%d records): %v\n  ids: %s\n", f.Index, len(f.IDs), f.Err, strings.Join(f.IDs, ","))
	}
	if err := report.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
}
