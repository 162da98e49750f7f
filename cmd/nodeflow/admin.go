package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

func workflowCmd(ctx context.Context, cfg Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return &exitError{code: 2, msg: "usage: nodeflow workflow put|list|diagram [options]"}
	}
	sub, args := args[0], args[1:]

	fs := flag.NewFlagSet("workflow "+sub, flag.ContinueOnError)
	fs.SetOutput(stderr)

	switch sub {
	case "put":
		id := fs.String("id", "", "workflow id (default: from the file)")
		owner := fs.String("owner", "", "owner id (default: from the file)")
		name := fs.String("name", "", "display name (default: the id)")
		if err := parseFlags(fs, args); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return &exitError{code: 2, msg: "usage: nodeflow workflow put [options] FILE"}
		}
		wf, err := loadWorkflowFile(fs.Arg(0))
		if err != nil {
			return err
		}
		if *id != "" {
			wf.ID = *id
		}
		if *owner != "" {
			wf.OwnerID = *owner
		}
		if *name != "" {
			wf.Name = *name
		}

		a, err := openApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		return putWorkflow(ctx, a.store, wf, stdout)

	case "list":
		owner := fs.String("owner", "", "only list this owner's workflows")
		if err := parseFlags(fs, args); err != nil {
			return err
		}
		a, err := openApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		wfs, err := a.store.ListWorkflows(ctx, store.WorkflowFilter{OwnerID: *owner})
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tOWNER\tNODES")
		for _, wf := range wfs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", wf.ID, wf.Name, wf.OwnerID, len(wf.Graph.Nodes))
		}
		return tw.Flush()

	case "diagram":
		format := fs.String("format", "ascii", "ascii, mermaid, png or svg")
		file := fs.String("file", "", "render a graph file instead of a stored workflow")
		out := fs.String("o", "", "write to this file (required for png and svg)")
		if err := parseFlags(fs, args); err != nil {
			return err
		}

		var wf *schema.Workflow
		var err error
		switch {
		case *file != "":
			wf, err = loadWorkflowFile(*file)
		case fs.NArg() == 1:
			a, openErr := openApp(ctx, cfg, logger)
			if openErr != nil {
				return openErr
			}
			defer a.Close()
			wf, err = a.store.GetWorkflow(ctx, fs.Arg(0))
		default:
			return &exitError{code: 2, msg: "usage: nodeflow workflow diagram [options] ID|-file FILE"}
		}
		if err != nil {
			return err
		}
		return writeDiagram(ctx, wf, *format, *out, stdout)

	default:
		return &exitError{code: 2, msg: fmt.Sprintf("unknown workflow command %q", sub)}
	}
}

// workflowWriter is the subset of the store used to save workflows.
type workflowWriter interface {
	CreateWorkflow(ctx context.Context, wf *schema.Workflow) error
	UpdateWorkflowGraph(ctx context.Context, id string, graph schema.Graph) error
}

// putWorkflow creates wf, or replaces the graph of an existing workflow.
func putWorkflow(ctx context.Context, w workflowWriter, wf *schema.Workflow, stdout io.Writer) error {
	err := w.CreateWorkflow(ctx, wf)
	if schema.HasCode(err, schema.ErrCodeConflict) {
		if err := w.UpdateWorkflowGraph(ctx, wf.ID, wf.Graph); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "updated workflow %s\n", wf.ID)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "created workflow %s\n", wf.ID)
	return nil
}

func writeDiagram(ctx context.Context, wf *schema.Workflow, format, out string, stdout io.Writer) error {
	model, err := diagram.Build(wf.Name, &wf.Graph, nil)
	if err != nil {
		return err
	}

	var body []byte
	switch format {
	case "ascii":
		body = []byte(diagram.RenderASCII(model) + "\n")
	case "mermaid":
		body = []byte(diagram.RenderMermaid(model) + "\n")
	case "png", "svg":
		if out == "" {
			return &exitError{code: 2, msg: "-o is required for " + format}
		}
		if body, err = diagram.RenderImage(ctx, model, diagram.Format(format)); err != nil {
			return err
		}
	default:
		return &exitError{code: 2, msg: fmt.Sprintf("unknown diagram format %q", format)}
	}

	if out == "" {
		_, err = stdout.Write(body)
		return err
	}
	return os.WriteFile(out, body, 0o644)
}

func credentialCmd(ctx context.Context, cfg Config, logger *slog.Logger, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return &exitError{code: 2, msg: "usage: nodeflow credential put|list|delete [options]"}
	}
	sub, args := args[0], args[1:]

	fs := flag.NewFlagSet("credential "+sub, flag.ContinueOnError)
	fs.SetOutput(stderr)
	owner := fs.String("owner", "", "owner id (required)")

	var (
		id, name, typ, value *string
	)
	switch sub {
	case "put":
		id = fs.String("id", "", "credential id (required)")
		name = fs.String("name", "", "display name")
		typ = fs.String("type", "", "provider the key belongs to: OPENAI, ANTHROPIC or GEMINI")
		value = fs.String("value", "", "secret value; read from stdin when empty")
	case "delete":
		id = fs.String("id", "", "credential id (required)")
	case "list":
	default:
		return &exitError{code: 2, msg: fmt.Sprintf("unknown credential command %q", sub)}
	}
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *owner == "" {
		return &exitError{code: 2, msg: "-owner is required"}
	}
	if id != nil && *id == "" {
		return &exitError{code: 2, msg: "-id is required"}
	}

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	switch sub {
	case "put":
		secret := *value
		if secret == "" {
			if secret, err = readSecret(stdin); err != nil {
				return err
			}
		}
		err := a.vault.Put(ctx, store.Credential{
			ID:      *id,
			OwnerID: *owner,
			Name:    *name,
			Type:    strings.ToUpper(*typ),
			Value:   secret,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "stored credential %s\n", *id)
		return nil

	case "delete":
		if err := a.vault.Delete(ctx, *id, *owner); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "deleted credential %s\n", *id)
		return nil

	default:
		creds, err := a.vault.List(ctx, *owner)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tTYPE\tUPDATED")
		for _, c := range creds {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Type, c.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	}
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "credential value is empty")
	}
	return line, nil
}
