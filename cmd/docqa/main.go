// docqa 命令行入口：ingest/query/reset/status，与HTTP服务共用同一份索引目录
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aihub/multimodal-rag/app/bootstrap"
	apperrors "github.com/aihub/multimodal-rag/internal/errors"
	"github.com/aihub/multimodal-rag/internal/services"
)

const usage = `usage: docqa <command> [flags]

commands:
  ingest <file>...              index PDF, image, txt/md or docx/xlsx files
  query [-all] [-no-answer] <q> ask a question (latest document only unless -all)
  reset                         delete both indexes, metadata and stored images
  status                        show index state
`

var errUsage = errors.New("invalid usage")

type knowledgeAPI interface {
	Upload(ctx context.Context, filename string, data []byte) (*services.UploadResult, error)
	Ask(ctx context.Context, query string, allDocs bool) (*services.AskResult, error)
	Search(ctx context.Context, query string, allDocs bool) (*services.AskResult, error)
	Reset(ctx context.Context) error
	Status(ctx context.Context) (*services.StatusResult, error)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	app, err := bootstrap.Init(bootstrap.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap: %v\n", err)
		os.Exit(1)
	}

	err = run(context.Background(), app.Service, os.Args[1:], os.Stdout)
	app.Shutdown()

	switch {
	case errors.Is(err, errUsage):
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	case err != nil:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, svc knowledgeAPI, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "ingest":
		return runIngest(ctx, svc, args[1:], out)
	case "query":
		return runQuery(ctx, svc, args[1:], out)
	case "reset":
		if err := svc.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Index reset.")
		return nil
	case "status":
		status, err := svc.Status(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, status)
	default:
		return errUsage
	}
}

// runIngest 逐个文件入库，单个失败不影响后续文件
func runIngest(ctx context.Context, svc knowledgeAPI, files []string, out io.Writer) error {
	if len(files) == 0 {
		return errUsage
	}

	failed := 0
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: %v\n", path, err)
			continue
		}
		result, err := svc.Upload(ctx, filepath.Base(path), data)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: %s\n", path, describe(err))
			continue
		}
		fmt.Fprintln(out, result.Message)
		if result.Report != nil {
			for _, skip := range result.Report.Skipped {
				fmt.Fprintf(out, "  skipped page %d item %d: %s\n", skip.Page, skip.Index, skip.Reason)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

func runQuery(ctx context.Context, svc knowledgeAPI, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	allDocs := fs.Bool("all", false, "search every indexed document")
	noAnswer := fs.Bool("no-answer", false, "only print retrieved context")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		return errUsage
	}

	var (
		result *services.AskResult
		err    error
	)
	if *noAnswer {
		result, err = svc.Search(ctx, query, *allDocs)
	} else {
		result, err = svc.Ask(ctx, query, *allDocs)
	}
	if err != nil {
		return errors.New(describe(err))
	}

	fmt.Fprintf(out, "mode: %s  scope: %s\n", result.Mode, result.Scope)
	for _, r := range result.Results {
		page := "?"
		if r.Page != nil {
			page = fmt.Sprint(*r.Page)
		}
		fmt.Fprintf(out, "#%d [%s] %s p.%s score=%.3f\n", r.Rank, strings.ToUpper(string(r.Modality)), r.Source, page, r.Score)
		fmt.Fprintf(out, "   %s\n", strings.ReplaceAll(r.Text, "\n", " "))
	}
	if result.Answer != "" {
		fmt.Fprintf(out, "\n%s\n", result.Answer)
	}
	return nil
}

func describe(err error) string {
	if apperrors.IsAppError(err) {
		return apperrors.GetAppError(err).Message
	}
	return err.Error()
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
