package tui

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"strconv"
	"strings"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/atotto/clipboard"
	"github.com/shopspring/decimal"

	"github.com/hylla/canetrack/internal/app"
	"github.com/hylla/canetrack/internal/domain"
	"github.com/hylla/canetrack/internal/expand"
	"github.com/hylla/canetrack/internal/tree"
)

// Service represents the workspace operations the TUI drives.
type Service interface {
	Load(context.Context) error
	Blocs() tree.Forest
	Expansion() expand.Set
	ToggleBloc(id string)
	ToggleOperation(id string)
	DeleteBlocPhrase() string
	AddBloc(context.Context, domain.BlocInput) (app.MutationResult, error)
	AddOperation(context.Context, string, domain.OperationInput) (app.MutationResult, error)
	AddWorkPackage(context.Context, string, string, domain.WorkPackageInput) (app.MutationResult, error)
	UpdateBlocField(context.Context, string, domain.BlocField, string) (app.MutationResult, error)
	UpdateOperationField(context.Context, string, string, domain.OperationField, string) (app.MutationResult, error)
	UpdateWorkPackageField(context.Context, string, string, string, domain.WorkPackageField, string) (app.MutationResult, error)
	AdvanceWorkPackage(context.Context, string, string, string) (app.MutationResult, error)
	DeleteBloc(context.Context, string, string) (app.MutationResult, error)
	DeleteOperation(context.Context, string, string, bool) (app.MutationResult, error)
	DeleteWorkPackage(context.Context, string, string, string, bool) (app.MutationResult, error)
}

// inputMode describes which modal, if any, owns key input.
type inputMode int

// inputMode values.
const (
	modeNone inputMode = iota
	modeConfirmDelete
	modeConfirmPhrase
	modeEdit
	modeAlert
)

// rowKind identifies the hierarchy level of one visible row.
type rowKind int

// rowKind values.
const (
	rowBloc rowKind = iota
	rowOperation
	rowWorkPackage
)

// treeRow is one visible line of the flattened tree.
type treeRow struct {
	kind   rowKind
	blocID string
	opID   string
	wpID   string
}

// id returns the id of the node the row shows.
func (r treeRow) id() string {
	switch r.kind {
	case rowOperation:
		return r.opID
	case rowWorkPackage:
		return r.wpID
	default:
		return r.blocID
	}
}

// levelName returns the display name of the row's level.
func (r treeRow) levelName() string {
	switch r.kind {
	case rowOperation:
		return "operation"
	case rowWorkPackage:
		return "work package"
	default:
		return "bloc"
	}
}

// Model represents the bloc tree screen.
type Model struct {
	svc Service

	ready  bool
	width  int
	height int
	err    error

	status string

	help help.Model
	keys keyMap

	display  DisplayConfig
	now      func() time.Time
	copyText func(string) error
	notes    *markdownRenderer

	blocs    tree.Forest
	expanded expand.Set
	rows     []treeRow
	cursor   int

	mode        inputMode
	pending     treeRow
	phraseInput textinput.Model
	editInput   textinput.Model
	alert       string
}

// loadedMsg carries message data through update handling.
type loadedMsg struct {
	err error
}

// actionMsg carries the outcome of one workspace mutation.
type actionMsg struct {
	action string
	res    app.MutationResult
	err    error
	focus  treeRow
}

// NewModel constructs a new value for this package.
func NewModel(svc Service, opts ...Option) Model {
	h := help.New()
	h.ShowAll = false
	m := Model{
		svc:         svc,
		status:      "loading...",
		help:        h,
		keys:        newKeyMap(),
		display:     DefaultDisplayConfig(),
		now:         time.Now,
		copyText:    clipboard.WriteAll,
		notes:       &markdownRenderer{},
		expanded:    expand.NewSet(),
		phraseInput: newModalInput("> ", "", "", 64),
		editInput:   newModalInput("> ", "", "", 120),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}
	return m
}

// Init handles init.
func (m Model) Init() tea.Cmd {
	return m.loadData
}

// Update updates state for the requested operation.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.refresh()
		if len(m.blocs) == 0 {
			m.status = "no blocs yet"
		} else if m.status == "" || m.status == "loading..." || m.status == "reloading..." {
			m.status = "ready"
		}
		return m, nil

	case actionMsg:
		return m.applyAction(msg), nil

	case tea.KeyPressMsg:
		if m.mode != modeNone {
			return m.handleInputModeKey(msg)
		}
		return m.handleNormalModeKey(msg)

	default:
		return m, nil
	}
}

// applyAction folds one mutation result into the view.
func (m Model) applyAction(msg actionMsg) Model {
	m.refresh()
	if msg.err != nil {
		if errors.Is(msg.err, app.ErrPersistence) || errors.Is(msg.err, app.ErrVersionConflict) {
			m.mode = modeAlert
			m.alert = msg.err.Error()
			if msg.res.Reconciled {
				m.alert += "\n\nlocal changes were discarded and the tree was reloaded"
			} else {
				m.alert += "\n\nreload failed; the tree shows unsaved changes"
			}
			m.status = msg.action + " failed"
			return m
		}
		if errors.Is(msg.err, app.ErrConfirmationRequired) {
			m.status = "not deleted: confirmation did not match"
			return m
		}
		m.status = msg.action + " failed: " + msg.err.Error()
		return m
	}
	if !msg.res.Applied {
		m.status = msg.action + ": item no longer exists"
		return m
	}
	if msg.focus.id() != "" {
		m.focusRow(msg.focus)
	}
	m.status = msg.action
	return m
}

// View handles view.
func (m Model) View() tea.View {
	if m.err != nil {
		v := tea.NewView("error: " + m.err.Error() + "\n\npress r to retry • q quit\n")
		v.AltScreen = true
		return v
	}
	if !m.ready {
		v := tea.NewView("loading...")
		v.AltScreen = true
		return v
	}

	accent := lipgloss.Color("35")
	muted := lipgloss.Color("241")
	dim := lipgloss.Color("239")

	helpBubble := m.help
	helpBubble.SetWidth(max(0, m.width-2))
	statusLine := lipgloss.NewStyle().Foreground(dim).Render(m.status)
	helpLine := lipgloss.NewStyle().
		Foreground(muted).
		BorderTop(true).
		BorderForeground(dim).
		Padding(0, 1).
		Width(max(0, m.width)).
		Render(helpBubble.View(m.keys))

	bodyHeight := max(0, m.height-lipgloss.Height(helpLine)-1)
	body := m.renderBody(accent, muted, bodyHeight)
	content := fitLines(body, bodyHeight) + "\n" + statusLine + "\n" + helpLine
	if overlay := m.renderModeOverlay(accent, muted); overlay != "" {
		content = overlayOnContent(content, overlay, m.width, m.height)
	}

	view := tea.NewView(content)
	view.AltScreen = true
	return view
}

// renderBody lays out the tree and detail panes.
func (m Model) renderBody(accent, muted color.Color, height int) string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(accent)
	if len(m.rows) == 0 {
		return strings.Join([]string{
			titleStyle.Render("canetrack"),
			"",
			"No blocs yet.",
			"Press N to add a bloc.",
		}, "\n")
	}

	treeWidth := m.width
	if m.width >= 100 {
		treeWidth = m.width * 3 / 5
	}
	treePane := m.renderTree(accent, treeWidth, height)
	detail := m.renderDetail(muted, max(24, m.width-treeWidth-3))
	if m.width >= 100 {
		detailPane := lipgloss.NewStyle().
			BorderLeft(true).
			BorderForeground(muted).
			PaddingLeft(1).
			Render(detail)
		return lipgloss.JoinHorizontal(lipgloss.Top, lipgloss.NewStyle().Width(treeWidth).Render(treePane), detailPane)
	}
	return treePane + "\n\n" + detail
}

// renderTree renders the visible rows, scrolled so the cursor stays on screen.
func (m Model) renderTree(accent color.Color, width, height int) string {
	selected := lipgloss.NewStyle().Bold(true).Foreground(accent)
	start := 0
	if height > 0 && m.cursor >= height {
		start = m.cursor - height + 1
	}
	lines := make([]string, 0, len(m.rows))
	for idx := start; idx < len(m.rows); idx++ {
		line := truncate(m.rowLabel(m.rows[idx]), max(1, width-2))
		if idx == m.cursor {
			line = selected.Render("› " + line)
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// rowLabel renders one tree line.
func (m Model) rowLabel(row treeRow) string {
	switch row.kind {
	case rowOperation:
		op := m.blocs.FindOperation(row.blocID, row.opID)
		if op == nil {
			return ""
		}
		return fmt.Sprintf("  %s %s (%s) %d%%", m.marker(row, len(op.WorkPackages)), op.ProductName, op.Method, op.Progress)
	case rowWorkPackage:
		wp := m.blocs.FindWorkPackage(row.blocID, row.opID, row.wpID)
		if wp == nil {
			return ""
		}
		return fmt.Sprintf("      %s %s  %s ha  %s", statusGlyph(wp.EffectiveStatus()), wp.Date, formatFloat(wp.Area), wp.EffectiveStatus().Label())
	default:
		b := m.blocs.FindBloc(row.blocID)
		if b == nil {
			return ""
		}
		label := fmt.Sprintf("%s %s  %s ha  %s  %d%%", m.marker(row, len(b.Operations)), b.Name, formatFloat(b.AreaHectares), b.CycleLabel(), b.Progress)
		if b.IsRetired() {
			label += "  (retired)"
		}
		return label
	}
}

// marker renders the expand glyph for one bloc or operation row.
func (m Model) marker(row treeRow, children int) string {
	open := false
	switch row.kind {
	case rowBloc:
		_, open = m.expanded.Blocs[row.blocID]
	case rowOperation:
		_, open = m.expanded.Operations[row.opID]
	}
	switch {
	case children == 0:
		return "·"
	case open:
		return "▾"
	default:
		return "▸"
	}
}

// renderDetail renders facts about the selected node.
func (m Model) renderDetail(muted color.Color, width int) string {
	row, ok := m.selectedRow()
	if !ok {
		return ""
	}
	labelStyle := lipgloss.NewStyle().Foreground(muted)
	field := func(label, value string) string {
		return labelStyle.Render(label+": ") + value
	}
	today := domain.DateOf(m.now())
	b := m.blocs.FindBloc(row.blocID)
	if b == nil {
		return ""
	}

	var lines []string
	switch row.kind {
	case rowBloc:
		lines = append(lines,
			lipgloss.NewStyle().Bold(true).Render(b.Name),
			field("id", b.ID),
			field("area", formatFloat(b.AreaHectares)+" ha"),
			field("cycle", b.CycleLabel()),
			field("variety", orDash(b.VarietyName)),
			field("stage", string(b.GrowthStage)),
			field("planted", orDash(b.PlantingDate.String())),
			field("harvest", orDash(b.PlannedHarvestDate.String())),
			field("progress", strconv.Itoa(b.Progress)+"%"),
		)
		if dap, ok := domain.DaysAfterPlanting(b.PlantingDate, today); ok {
			lines = append(lines, field("DAP", strconv.Itoa(dap)))
		}
		if m.display.ShowCosts {
			totals := b.Totals()
			lines = append(lines,
				field("estimated", m.money(totals.Estimated())),
				field("actual", m.money(totals.Actual())),
			)
		}
		if m.display.ShowNotes && strings.TrimSpace(b.Notes) != "" {
			lines = append(lines, "", m.notes.render(b.Notes, width))
		}
	case rowOperation:
		op := b.FindOperation(row.opID)
		if op == nil {
			return ""
		}
		lines = append(lines,
			lipgloss.NewStyle().Bold(true).Render(op.ProductName),
			field("id", op.ID),
			field("bloc", b.Name),
			field("method", string(op.Method)),
			field("window", orDash(op.PlannedStartDate.String())+" → "+orDash(op.PlannedEndDate.String())),
			field("rate", formatFloat(op.PlannedRate)),
			field("status", op.Status.Label()),
			field("progress", strconv.Itoa(op.Progress)+"%"),
		)
		if m.display.ShowCosts {
			lines = append(lines,
				field("est product", m.money(op.EstProductCost)),
				field("est resource", m.money(op.EstResourceCost)),
				field("act product", m.money(op.ActProductCost)),
				field("act resource", m.money(op.ActResourceCost)),
			)
		}
	case rowWorkPackage:
		wp := m.blocs.FindWorkPackage(row.blocID, row.opID, row.wpID)
		if wp == nil {
			return ""
		}
		lines = append(lines,
			lipgloss.NewStyle().Bold(true).Render("work package "+wp.Date.String()),
			field("id", wp.ID),
			field("area", formatFloat(wp.Area)+" ha"),
			field("rate", formatFloat(wp.Rate)),
			field("quantity", formatFloat(wp.Quantity)),
			field("status", wp.EffectiveStatus().Label()),
		)
		if dap, ok := domain.DaysAfterPlanting(b.PlantingDate, wp.Date); ok {
			lines = append(lines, field("DAP", strconv.Itoa(dap)))
		}
	}
	return strings.Join(lines, "\n")
}

// renderModeOverlay renders the active modal box, if any.
func (m Model) renderModeOverlay(accent, muted color.Color) string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(0, 1)
	if m.width > 0 {
		boxStyle = boxStyle.Width(clamp(m.width-8, 24, 72))
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(accent)
	hintStyle := lipgloss.NewStyle().Foreground(muted)

	switch m.mode {
	case modeConfirmDelete:
		return boxStyle.Render(strings.Join([]string{
			titleStyle.Render("Delete " + m.pending.levelName() + "?"),
			m.nodeName(m.pending),
			hintStyle.Render("y confirm • n/esc cancel"),
		}, "\n"))
	case modeConfirmPhrase:
		return boxStyle.Render(strings.Join([]string{
			titleStyle.Render("Delete bloc " + m.nodeName(m.pending)),
			"All operations and work packages will be removed.",
			fmt.Sprintf("Type %q to confirm:", m.svc.DeleteBlocPhrase()),
			m.phraseInput.View(),
			hintStyle.Render("enter confirm • esc cancel"),
		}, "\n"))
	case modeEdit:
		return boxStyle.Render(strings.Join([]string{
			titleStyle.Render("Edit " + m.pending.levelName() + " " + editField(m.pending.kind)),
			m.editInput.View(),
			hintStyle.Render("enter save • esc cancel"),
		}, "\n"))
	case modeAlert:
		alertStyle := boxStyle.BorderForeground(lipgloss.Color("196"))
		return alertStyle.Render(strings.Join([]string{
			lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")).Render("Save failed"),
			m.alert,
			hintStyle.Render("enter/esc dismiss"),
		}, "\n"))
	default:
		return ""
	}
}

// handleNormalModeKey handles normal mode key.
func (m Model) handleNormalModeKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.toggleHelp):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.reload):
		m.status = "reloading..."
		return m, m.loadData
	case m.err != nil:
		return m, nil
	case key.Matches(msg, m.keys.moveDown):
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
		return m, nil
	case key.Matches(msg, m.keys.moveUp):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case key.Matches(msg, m.keys.addBloc):
		return m, m.mutate("bloc added", func(ctx context.Context) (app.MutationResult, error) {
			return m.svc.AddBloc(ctx, domain.BlocInput{Name: "New bloc", AreaHectares: 1})
		})
	}

	row, ok := m.selectedRow()
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.toggleExpand):
		switch row.kind {
		case rowBloc:
			m.svc.ToggleBloc(row.blocID)
		case rowOperation:
			m.svc.ToggleOperation(row.opID)
		}
		m.refresh()
		return m, nil
	case key.Matches(msg, m.keys.advance):
		if row.kind != rowWorkPackage {
			m.status = "select a work package to advance"
			return m, nil
		}
		return m, m.mutate("status advanced", func(ctx context.Context) (app.MutationResult, error) {
			return m.svc.AdvanceWorkPackage(ctx, row.blocID, row.opID, row.wpID)
		})
	case key.Matches(msg, m.keys.addChild):
		return m, m.addChild(row)
	case key.Matches(msg, m.keys.edit):
		m.pending = row
		m.mode = modeEdit
		m.editInput = newModalInput("> ", "", m.fieldValue(row), 120)
		m.editInput.CursorEnd()
		return m, m.editInput.Focus()
	case key.Matches(msg, m.keys.deleteNode):
		m.pending = row
		if row.kind == rowBloc {
			m.mode = modeConfirmPhrase
			m.phraseInput = newModalInput("> ", m.svc.DeleteBlocPhrase(), "", 64)
			return m, m.phraseInput.Focus()
		}
		m.mode = modeConfirmDelete
		return m, nil
	case key.Matches(msg, m.keys.copyID):
		if err := m.copyText(row.id()); err != nil {
			m.status = "copy failed: " + err.Error()
			return m, nil
		}
		m.status = "copied " + row.id()
		return m, nil
	default:
		return m, nil
	}
}

// handleInputModeKey handles keys while a modal is open.
func (m Model) handleInputModeKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch m.mode {
	case modeAlert:
		switch msg.String() {
		case "enter", "esc":
			m.mode = modeNone
			m.alert = ""
		}
		return m, nil

	case modeConfirmDelete:
		switch msg.String() {
		case "y", "Y", "enter":
			m.mode = modeNone
			return m, m.deletePending(true)
		case "n", "N", "esc":
			m.mode = modeNone
			m.status = "delete cancelled"
		}
		return m, nil

	case modeConfirmPhrase:
		switch msg.String() {
		case "esc":
			m.mode = modeNone
			m.status = "delete cancelled"
			return m, nil
		case "enter":
			m.mode = modeNone
			phrase := m.phraseInput.Value()
			row := m.pending
			return m, m.mutate("bloc deleted", func(ctx context.Context) (app.MutationResult, error) {
				return m.svc.DeleteBloc(ctx, row.blocID, phrase)
			})
		}
		var cmd tea.Cmd
		m.phraseInput, cmd = m.phraseInput.Update(msg)
		return m, cmd

	case modeEdit:
		switch msg.String() {
		case "esc":
			m.mode = modeNone
			m.status = "edit cancelled"
			return m, nil
		case "enter":
			m.mode = modeNone
			return m, m.savePendingEdit(m.editInput.Value())
		}
		var cmd tea.Cmd
		m.editInput, cmd = m.editInput.Update(msg)
		return m, cmd
	}
	m.mode = modeNone
	return m, nil
}

// addChild creates a child of the selected node with default values.
// A new work package starts at its operation's planned rate.
func (m Model) addChild(row treeRow) tea.Cmd {
	if row.kind == rowBloc {
		return m.mutate("operation added", func(ctx context.Context) (app.MutationResult, error) {
			return m.svc.AddOperation(ctx, row.blocID, domain.OperationInput{ProductName: "New operation"})
		})
	}
	var in domain.WorkPackageInput
	if op := m.blocs.FindOperation(row.blocID, row.opID); op != nil {
		in.Rate = op.PlannedRate
	}
	return m.mutate("work package added", func(ctx context.Context) (app.MutationResult, error) {
		return m.svc.AddWorkPackage(ctx, row.blocID, row.opID, in)
	})
}

// deletePending removes the pending operation or work package.
func (m Model) deletePending(confirmed bool) tea.Cmd {
	row := m.pending
	if row.kind == rowOperation {
		return m.mutate("operation deleted", func(ctx context.Context) (app.MutationResult, error) {
			return m.svc.DeleteOperation(ctx, row.blocID, row.opID, confirmed)
		})
	}
	return m.mutate("work package deleted", func(ctx context.Context) (app.MutationResult, error) {
		return m.svc.DeleteWorkPackage(ctx, row.blocID, row.opID, row.wpID, confirmed)
	})
}

// savePendingEdit writes the edited primary field of the pending row.
func (m Model) savePendingEdit(raw string) tea.Cmd {
	row := m.pending
	return m.mutate(row.levelName()+" updated", func(ctx context.Context) (app.MutationResult, error) {
		switch row.kind {
		case rowOperation:
			return m.svc.UpdateOperationField(ctx, row.blocID, row.opID, domain.OperationFieldProductName, raw)
		case rowWorkPackage:
			return m.svc.UpdateWorkPackageField(ctx, row.blocID, row.opID, row.wpID, domain.WorkPackageFieldArea, raw)
		default:
			return m.svc.UpdateBlocField(ctx, row.blocID, domain.BlocFieldName, raw)
		}
	})
}

// mutate runs one workspace call off the update loop.
func (m Model) mutate(action string, call func(context.Context) (app.MutationResult, error)) tea.Cmd {
	return func() tea.Msg {
		res, err := call(context.Background())
		return actionMsg{action: action, res: res, err: err, focus: focusFor(res)}
	}
}

// focusFor returns the deepest row a mutation result names.
func focusFor(res app.MutationResult) treeRow {
	switch {
	case res.WorkPackageID != "":
		return treeRow{kind: rowWorkPackage, blocID: res.BlocID, opID: res.OperationID, wpID: res.WorkPackageID}
	case res.OperationID != "":
		return treeRow{kind: rowOperation, blocID: res.BlocID, opID: res.OperationID}
	default:
		return treeRow{kind: rowBloc, blocID: res.BlocID}
	}
}

// loadData loads required data for the current operation.
func (m Model) loadData() tea.Msg {
	return loadedMsg{err: m.svc.Load(context.Background())}
}

// refresh copies the workspace snapshot and rebuilds rows, keeping the cursor on the same node.
func (m *Model) refresh() {
	current, hadRow := m.selectedRow()
	m.blocs = m.svc.Blocs()
	m.expanded = m.svc.Expansion()
	m.rows = flattenRows(m.blocs, m.expanded)
	if hadRow && m.focusRow(current) {
		return
	}
	m.cursor = clamp(m.cursor, 0, len(m.rows)-1)
}

// focusRow moves the cursor to row when it is visible.
func (m *Model) focusRow(row treeRow) bool {
	for idx, candidate := range m.rows {
		if candidate == row {
			m.cursor = idx
			return true
		}
	}
	return false
}

// selectedRow returns the row under the cursor.
func (m Model) selectedRow() (treeRow, bool) {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return treeRow{}, false
	}
	return m.rows[m.cursor], true
}

// flattenRows lists visible rows in tree order.
func flattenRows(blocs tree.Forest, expanded expand.Set) []treeRow {
	rows := make([]treeRow, 0, len(blocs))
	for _, b := range blocs {
		rows = append(rows, treeRow{kind: rowBloc, blocID: b.ID})
		if _, open := expanded.Blocs[b.ID]; !open {
			continue
		}
		for _, op := range b.Operations {
			rows = append(rows, treeRow{kind: rowOperation, blocID: b.ID, opID: op.ID})
			if _, open := expanded.Operations[op.ID]; !open {
				continue
			}
			for _, wp := range op.WorkPackages {
				rows = append(rows, treeRow{kind: rowWorkPackage, blocID: b.ID, opID: op.ID, wpID: wp.ID})
			}
		}
	}
	return rows
}

// nodeName returns a short human name for a row.
func (m Model) nodeName(row treeRow) string {
	switch row.kind {
	case rowOperation:
		if op := m.blocs.FindOperation(row.blocID, row.opID); op != nil {
			return op.ProductName
		}
	case rowWorkPackage:
		if wp := m.blocs.FindWorkPackage(row.blocID, row.opID, row.wpID); wp != nil {
			return wp.Date.String() + " · " + formatFloat(wp.Area) + " ha"
		}
	default:
		if b := m.blocs.FindBloc(row.blocID); b != nil {
			return b.Name
		}
	}
	return row.id()
}

// editField names the field the edit modal changes for a level.
func editField(kind rowKind) string {
	switch kind {
	case rowOperation:
		return string(domain.OperationFieldProductName)
	case rowWorkPackage:
		return string(domain.WorkPackageFieldArea)
	default:
		return string(domain.BlocFieldName)
	}
}

// fieldValue returns the current text of the row's editable field.
func (m Model) fieldValue(row treeRow) string {
	switch row.kind {
	case rowOperation:
		if op := m.blocs.FindOperation(row.blocID, row.opID); op != nil {
			return op.FieldValue(domain.OperationFieldProductName)
		}
	case rowWorkPackage:
		if wp := m.blocs.FindWorkPackage(row.blocID, row.opID, row.wpID); wp != nil {
			return wp.FieldValue(domain.WorkPackageFieldArea)
		}
	default:
		if b := m.blocs.FindBloc(row.blocID); b != nil {
			return b.FieldValue(domain.BlocFieldName)
		}
	}
	return ""
}

// money formats one amount in the configured currency.
func (m Model) money(d decimal.Decimal) string {
	return strings.TrimSpace(m.display.Currency + " " + d.StringFixed(2))
}

// statusGlyph returns a checkbox-style marker for a status.
func statusGlyph(s domain.WorkStatus) string {
	switch s {
	case domain.StatusComplete:
		return "[x]"
	case domain.StatusInProgress:
		return "[~]"
	default:
		return "[ ]"
	}
}

// formatFloat renders a quantity without trailing zeros.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// orDash returns "-" for blank values.
func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// newModalInput constructs one configured modal text input.
func newModalInput(prompt, placeholder, value string, limit int) textinput.Model {
	in := textinput.New()
	in.Prompt = prompt
	in.Placeholder = placeholder
	in.CharLimit = limit
	if value != "" {
		in.SetValue(value)
	}
	return in
}

// clamp clamps the requested operation.
func clamp(v, minV, maxV int) int {
	if maxV < minV {
		return minV
	}
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}

// fitLines pads or truncates content to exactly maxLines lines.
func fitLines(content string, maxLines int) string {
	if maxLines <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	switch {
	case len(lines) > maxLines:
		if maxLines == 1 {
			lines = []string{"…"}
		} else {
			lines = append(lines[:maxLines-1], "…")
		}
	case len(lines) < maxLines:
		padding := make([]string, maxLines-len(lines))
		lines = append(lines, padding...)
	}
	return strings.Join(lines, "\n")
}

// overlayOnContent overlays on content.
func overlayOnContent(base, overlay string, width, height int) string {
	if width <= 0 || height <= 0 {
		if strings.TrimSpace(overlay) == "" {
			return base
		}
		return overlay + "\n\n" + base
	}

	base = fitLines(base, height)
	canvas := lipgloss.NewCanvas(width, height)
	baseLayer := lipgloss.NewLayer(base).X(0).Y(0).Z(0)
	centeredOverlay := lipgloss.Place(
		width,
		height,
		lipgloss.Center,
		lipgloss.Center,
		overlay,
	)
	overlayLayer := lipgloss.NewLayer(centeredOverlay).X(0).Y(0).Z(10)

	canvas.Compose(baseLayer)
	canvas.Compose(overlayLayer)
	return canvas.Render()
}

// truncate truncates the requested operation.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= max {
		return s
	}
	if max <= 1 {
		return string(rs[:max])
	}
	return string(rs[:max-1]) + "…"
}
