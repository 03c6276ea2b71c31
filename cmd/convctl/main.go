// Command convctl runs a single pipeline invocation from the command line
// and prints the stage report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/GoCodeAlone/conveyor"
	"github.com/GoCodeAlone/conveyor/config"
	"github.com/GoCodeAlone/conveyor/scheduler"
	"github.com/GoCodeAlone/conveyor/trigger"
)

var (
	configFile  = flag.String("config", "", "Path to service configuration YAML file")
	kind        = flag.String("event", "push", "Trigger kind: pull_request, push, tag, deployment")
	branch      = flag.String("branch", "", "Branch the event refers to")
	tag         = flag.String("tag", "", "Tag for tag events and production deployments")
	environment = flag.String("environment", "", "Target environment for deployment events")
	build       = flag.Int("build", 0, "Build number of this run")
	parentBuild = flag.Int("parent-build", 0, "Build number of the run that built the artifact")
	quiet       = flag.Bool("quiet", false, "Suppress scheduler logs, print only the report")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	if *quiet {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	} else {
		cfg = config.Default()
	}

	ev := trigger.Event{
		Kind:              trigger.Kind(*kind),
		Branch:            *branch,
		Tag:               *tag,
		Environment:       *environment,
		BuildNumber:       *build,
		ParentBuildNumber: *parentBuild,
	}
	if err := ev.Validate(); err != nil {
		log.Fatalf("Invalid event: %v", err)
	}

	ctx := context.Background()
	sched, err := conveyor.BuildScheduler(ctx, cfg, logger, nil)
	if err != nil {
		log.Fatalf("Failed to build scheduler: %v", err)
	}

	run, err := sched.Execute(ctx, ev)
	if run != nil {
		printReport(run)
	}
	if err != nil {
		os.Exit(1)
	}
}

func printReport(run *scheduler.Run) {
	fmt.Printf("Run %s (%s): %s\n\n", run.ID, run.Event.String(), run.Status)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tACTION\tSTATUS\tDURATION\tERROR")
	for _, st := range run.Stages {
		errMsg := st.Error
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			st.Name, st.Action, st.Status, st.Duration.Round(time.Millisecond), errMsg)
	}
	w.Flush()

	if run.Error != "" {
		fmt.Printf("\nError: %s\n", run.Error)
	}
}
