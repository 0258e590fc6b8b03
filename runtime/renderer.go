package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/warriorguo/etlflow/types"
	"github.com/warriorguo/etlflow/utils"
)

var statusColors = map[types.StatusType]string{
	types.Pending:        "white",
	types.Running:        "yellow",
	types.Retrying:       "gold",
	types.Succeeded:      "green",
	types.Failed:         "red",
	types.UpstreamFailed: "orange",
}

func (f *flow) renderDOT(plan *dagExecutePlan, states map[string]*types.TaskState, records map[string]*types.TaskTraceRecord) (string, error) {
	renderer := newDAGRenderer()
	return renderer.generateDOT(plan, states, records)
}

func (f *flow) loadRunAndRender(ctx context.Context, runID string) (string, error) {
	plan, err := f.loadPlan(ctx, runID)
	if err != nil {
		return "", errors.Trace(err)
	}
	status, err := f.getExecutePlanStatus(ctx, runID)
	if err != nil {
		return "", errors.Trace(err)
	}
	records, err := f.loadRecords(ctx, runID)
	if err != nil {
		return "", errors.Trace(err)
	}
	return f.renderDOT(plan, status.Tasks, records)
}

func newDAGRenderer() *dagRenderer {
	return &dagRenderer{sb: &strings.Builder{}}
}

type dagRenderer struct {
	states  map[string]*types.TaskState
	records map[string]*types.TaskTraceRecord
	sb      *strings.Builder
}

func (d *dagRenderer) generateDOT(plan *dagExecutePlan, states map[string]*types.TaskState, records map[string]*types.TaskTraceRecord) (string, error) {
	if plan == nil {
		return "", errors.BadRequestf("plan is nil")
	}
	d.states = states
	d.records = records

	order := plan.Order
	if len(order) != len(plan.Tasks) {
		var err error
		if order, err = plan.topologicalOrder(); err != nil {
			return "", errors.Trace(err)
		}
	}

	d.write("digraph D {")
	d.write("label=%s", quoteString(plan.Name))
	for _, name := range order {
		d.drawNode(name, plan.Tasks[name])
	}
	d.drawLinks(plan)
	d.write("}")
	return d.sb.String(), nil
}

func packToComment(r *types.TaskTraceRecord) string {
	s, _ := json.Marshal(r)
	return formatNL(addSlashes(string(s)))
}

func (d *dagRenderer) calcAttr(name string) string {
	state, exists := d.states[name]
	if !exists {
		return ""
	}

	attr := fmt.Sprintf(" style=\"filled\" color=\"%s\"", statusColors[state.Status])
	if record, exists := d.records[name]; exists {
		attr += fmt.Sprintf(" comment=\"%s\"", packToComment(record))
	}
	return attr
}

func (d *dagRenderer) drawNode(name string, info *taskInfo) {
	label := name
	if info != nil && info.Kind != "" {
		label = fmt.Sprintf("%s|%s", name, info.Kind)
	}
	if state, exists := d.states[name]; exists {
		label = fmt.Sprintf("%s|%s", label, state.Status)
	}
	d.write("%s [label=%s shape=\"record\"%s]", idString(name), quoteString("{"+label+"}"), d.calcAttr(name))
}

func (d *dagRenderer) drawLinks(plan *dagExecutePlan) {
	for _, from := range utils.SortedKeys(plan.Links) {
		for _, to := range plan.Links[from] {
			d.write("%s -> %s", idString(from), idString(to))
		}
	}
}

func (d *dagRenderer) write(format string, s ...any) {
	d.sb.WriteString(fmt.Sprintf(format+"\n", s...))
}

var (
	slashesToken = []string{"\\", "\"", "'", " "}
)

func addSlashes(s string) string {
	for _, token := range slashesToken {
		s = strings.ReplaceAll(s, token, "\\"+token)
	}
	return s
}

func formatNL(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func quoteString(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
}

var idleChars = []string{" ", "'", "\"", "(", ")", "*", "&", "^", "%", "$", "#", "@", "!", "?", "<", ">", "[", "]", "{", "}", ".", "-"}

func idString(s string) string {
	for _, ch := range idleChars {
		s = strings.ReplaceAll(s, ch, "_")
	}
	return s
}
