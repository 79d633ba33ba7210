package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"taskbench/evaluation/evaluator"
	"taskbench/evaluation/plugins"
)

// WebName is the plugin name of the web evaluator.
const WebName = "web"

// NewWeb builds the evaluator that checks saved HTML snapshots with CSS
// selectors.
func NewWeb(env plugins.Env) (*evaluator.Descriptor, error) {
	w := &web{workDir: env.WorkDir}
	return evaluator.New(WebName,
		evaluator.OnEval("selector_text", w.selectorText, evaluator.Arg("path"), evaluator.Arg("selector"), evaluator.Arg("text")),
		evaluator.OnEval("selector_count", w.selectorCount, evaluator.Arg("path"), evaluator.Arg("selector"), evaluator.Arg("count")),
	)
}

type web struct {
	workDir string
}

func (w *web) find(args evaluator.Args) (*goquery.Selection, string, error) {
	rel, err := args.String("path")
	if err != nil {
		return nil, "", err
	}
	selector, err := args.String("selector")
	if err != nil {
		return nil, "", err
	}
	full, err := plugins.ResolvePath(w.workDir, rel)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", evaluator.ErrInvalidParam, err)
	}
	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return nil, "", evaluator.Feedback("page snapshot %s does not exist", rel)
	}
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, "", err
	}
	return doc.Find(selector), selector, nil
}

func (w *web) selectorText(_ context.Context, args evaluator.Args) error {
	sel, selector, err := w.find(args)
	if err != nil {
		return err
	}
	text, err := args.String("text")
	if err != nil {
		return err
	}
	if sel.Length() == 0 {
		return evaluator.Feedback("no element matches %q", selector)
	}
	found := false
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = strings.Contains(strings.TrimSpace(s.Text()), text)
		return !found
	})
	if !found {
		return evaluator.Feedback("no %q element contains %q", selector, text)
	}
	return nil
}

func (w *web) selectorCount(_ context.Context, args evaluator.Args) error {
	sel, selector, err := w.find(args)
	if err != nil {
		return err
	}
	want, err := args.Int("count")
	if err != nil {
		return err
	}
	if got := sel.Length(); got != want {
		return evaluator.Feedback("expected %d %q elements, found %d", want, selector, got)
	}
	return nil
}
