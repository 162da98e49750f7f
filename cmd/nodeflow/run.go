package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

func runCmd(ctx context.Context, cfg Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	data := fs.String("data", "", "initial data as a JSON object, or @file to read it from a file")
	trigger := fs.String("trigger", "", "trigger event id; reuse one to resume or replay a run (default: new uuid)")
	showDiagram := fs.String("diagram", "", "print the graph with node statuses afterwards: ascii or mermaid")
	showContext := fs.Bool("context", false, "print the final execution context instead of the record")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return &exitError{code: 2, msg: "usage: nodeflow run [options] FILE"}
	}
	switch *showDiagram {
	case "", "ascii", "mermaid":
	default:
		return &exitError{code: 2, msg: fmt.Sprintf("unknown diagram format %q", *showDiagram)}
	}

	wf, err := loadWorkflowFile(fs.Arg(0))
	if err != nil {
		return err
	}
	initial, err := parseInitialData(*data)
	if err != nil {
		return err
	}
	ev := schema.TriggerEvent{
		WorkflowID:     wf.ID,
		TriggerEventID: *trigger,
		InitialData:    initial,
	}
	if ev.TriggerEventID == "" {
		ev.TriggerEventID = uuid.New().String()
	}

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	stopCollect, err := collectStatuses(ctx, a.hub, wf.ID)
	if err != nil {
		return err
	}

	rt := engine.NewRuntime(a.engine(fileWorkflows{wf: wf}), cfg.runtimeConfig(), logger)
	res, runErr := rt.RunSync(ctx, ev)
	seen := stopCollect()

	if res != nil {
		var out any = res.Record
		if *showContext {
			out = res.Context
		}
		if out != nil {
			raw, err := json.MarshalIndentWithOption(out, "", "  ", json.DisableHTMLEscape())
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, string(raw))
		}
	}

	if *showDiagram != "" {
		model, err := diagram.Build(wf.Name, &wf.Graph, seen)
		if err != nil {
			return err
		}
		if *showDiagram == "mermaid" {
			fmt.Fprintln(stdout, diagram.RenderMermaid(model))
		} else {
			fmt.Fprintln(stdout, diagram.RenderASCII(model))
		}
	}

	return runErr
}

// collectStatuses records the latest status of every node of workflowID until
// the returned stop func is called.
func collectStatuses(ctx context.Context, hub streaming.EventHub, workflowID string) (func() map[string]schema.NodeStatus, error) {
	ch, unsubscribe, err := hub.Subscribe(ctx, streaming.EventFilter{WorkflowID: workflowID})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]schema.NodeStatus)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			seen[ev.NodeID] = ev.Status
		}
	}()

	return func() map[string]schema.NodeStatus {
		unsubscribe()
		<-done
		return seen
	}, nil
}

func parseInitialData(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	raw := []byte(s)
	if path, ok := strings.CutPrefix(s, "@"); ok {
		var err error
		if raw, err = os.ReadFile(path); err != nil {
			return nil, err
		}
	}
	var out map[string]any
	if err := xjson.Unmarshal(raw, &out); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "initial data must be a JSON object").WithCause(err)
	}
	return out, nil
}
