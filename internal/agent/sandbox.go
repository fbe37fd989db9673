package agent

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/tools"
)

const defaultSandboxTimeout = 10 * time.Second

// noSources 让解释器无法从磁盘加载任何源码包。
var noSources embed.FS

// blockedSymbols 是允许的包中仍然屏蔽的符号。
var blockedSymbols = map[string]map[string]bool{
	"fmt":  {"Print": true, "Printf": true, "Println": true, "Scan": true, "Scanf": true, "Scanln": true},
	"time": {"Sleep": true, "Tick": true, "NewTicker": true, "After": true, "AfterFunc": true, "NewTimer": true},
}

var (
	symbolsOnce sync.Once
	symbols     interp.Exports
)

// sandboxSymbols 从 yaegi 标准库符号表中挑出允许导入的包。
func sandboxSymbols() interp.Exports {
	symbolsOnce.Do(func() {
		symbols = interp.Exports{}
		for key, syms := range stdlib.Symbols {
			idx := strings.LastIndex(key, "/")
			if idx <= 0 {
				continue
			}
			pkg := key[:idx]
			if !allowedImports[pkg] {
				continue
			}
			filtered := make(map[string]reflect.Value, len(syms))
			for name, v := range syms {
				if blockedSymbols[pkg][name] {
					continue
				}
				filtered[name] = v
			}
			symbols[key] = filtered
		}
	})
	return symbols
}

// Sandbox 用 yaegi 解释执行通过安全检查的程序。
type Sandbox struct {
	timeout time.Duration
}

// NewSandbox 创建沙箱。
func NewSandbox(timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = defaultSandboxTimeout
	}
	return &Sandbox{timeout: timeout}
}

// Run 执行 code 中的 Run(input)。工具包装层通过 bridge 注入。
func (s *Sandbox) Run(ctx context.Context, code, input string, b *bridge) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	b.bind(ctx)

	i := interp.New(interp.Options{
		Stdin:                strings.NewReader(""),
		Stdout:               io.Discard,
		Stderr:               io.Discard,
		SourcecodeFilesystem: noSources,
	})
	if err := i.Use(sandboxSymbols()); err != nil {
		return "", xerrors.Wrap(CodeSandboxFailure, err, "load sandbox symbols")
	}
	if err := i.Use(b.exports()); err != nil {
		return "", xerrors.Wrap(CodeSandboxFailure, err, "load tool wrappers")
	}
	if _, err := i.EvalWithContext(ctx, code); err != nil {
		return "", xerrors.Wrap(CodeSandboxFailure, err, "program failed to compile")
	}
	v, err := i.EvalWithContext(ctx, "main.Run")
	if err != nil {
		return "", xerrors.Wrap(CodeSandboxFailure, err, "Run is not defined")
	}
	run, ok := v.Interface().(func(string) (string, error))
	if !ok {
		return "", xerrors.New(CodeSandboxFailure, "Run has the wrong signature")
	}

	type outcome struct {
		out string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := run(input)
		done <- outcome{out: out, err: err}
	}()

	select {
	case res := <-done:
		if ctx.Err() != nil {
			return "", xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "program did not finish in time")
		}
		if res.err != nil {
			return "", xerrors.Wrap(CodeSandboxFailure, res.err, "program returned an error")
		}
		if strings.TrimSpace(res.out) == "" {
			return "", xerrors.New(CodeSandboxFailure, "program returned an empty reply")
		}
		return res.out, nil
	case <-ctx.Done():
		return "", xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "program did not finish in time")
	}
}

// bridge 把白名单工具暴露给沙箱程序。读操作直接调用，写操作只记录为提议。
type bridge struct {
	invoker tools.Invoker
	userID  string
	loc     *time.Location
	now     func() time.Time

	mu        sync.Mutex
	ctx       context.Context
	results   []action.ToolResult
	proposals []action.Payload
}

func newBridge(invoker tools.Invoker, userID string, loc *time.Location, now func() time.Time) *bridge {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &bridge{invoker: invoker, userID: userID, loc: loc, now: now, ctx: context.Background()}
}

func (b *bridge) bind(ctx context.Context) {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()
}

func (b *bridge) exports() interp.Exports {
	return interp.Exports{
		toolsImportPath + "/tools": map[string]reflect.Value{
			"Now":               reflect.ValueOf(b.Now),
			"ListImportantMail": reflect.ValueOf(b.ListImportantMail),
			"SearchMail":        reflect.ValueOf(b.SearchMail),
			"ListEvents":        reflect.ValueOf(b.ListEvents),
			"GetEvent":          reflect.ValueOf(b.GetEvent),
			"ProposeMail":       reflect.ValueOf(b.ProposeMail),
			"ProposeEvent":      reflect.ValueOf(b.ProposeEvent),
			"ProposeDelete":     reflect.ValueOf(b.ProposeDelete),
			"ProposePreference": reflect.ValueOf(b.ProposePreference),
		},
	}
}

// Proposal 返回第一个写操作提议。
func (b *bridge) Proposal() action.Payload {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.proposals) == 0 {
		return nil
	}
	return b.proposals[0]
}

// Results 返回已执行的读操作结果。
func (b *bridge) Results() []action.ToolResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]action.ToolResult(nil), b.results...)
}

func (b *bridge) Now() string {
	return b.now().In(b.loc).Format(time.RFC3339)
}

func (b *bridge) read(args action.Args) (string, error) {
	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()

	res := b.invoker.Invoke(ctx, tools.Invocation{UserID: b.userID, Call: action.Call(args)})
	b.mu.Lock()
	b.results = append(b.results, res)
	b.mu.Unlock()
	if !res.OK {
		return "", fmt.Errorf("%s failed (%s): %s", res.Tool, res.Error.Class, res.Error.Message)
	}
	data, err := json.Marshal(res.Data)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (b *bridge) ListImportantMail(days int, showAll bool) (string, error) {
	return b.read(action.MailListImportant{Days: days, ShowAll: showAll})
}

func (b *bridge) SearchMail(query string, showAll bool) (string, error) {
	return b.read(action.MailSearch{Query: query, ShowAll: showAll})
}

func (b *bridge) ListEvents(timeMin, timeMax string, showAll bool) (string, error) {
	from, err := b.parseTime(timeMin)
	if err != nil {
		return "", err
	}
	to, err := b.parseTime(timeMax)
	if err != nil {
		return "", err
	}
	return b.read(action.CalendarListEvents{TimeMin: from, TimeMax: to, ShowAll: showAll})
}

func (b *bridge) GetEvent(id string) (string, error) {
	return b.read(action.CalendarGetEvent{EventID: id})
}

func (b *bridge) propose(p action.Payload) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%s rejected: %s", p.Kind(), xerrors.MessageOf(err))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.proposals) > 0 {
		return fmt.Errorf("only one action can be proposed per request")
	}
	b.proposals = append(b.proposals, p)
	return nil
}

func (b *bridge) ProposeMail(to, subject, body string) error {
	return b.propose(action.MailSend{To: to, Subject: subject, Body: body})
}

func (b *bridge) ProposeEvent(summary, start, end string) error {
	from, err := b.parseTime(start)
	if err != nil {
		return err
	}
	to, err := b.parseTime(end)
	if err != nil {
		return err
	}
	return b.propose(action.CalendarCreate{Summary: summary, Start: from, End: to})
}

func (b *bridge) ProposeDelete(ids []string) error {
	return b.propose(action.CalendarDelete{EventIDs: append([]string(nil), ids...)})
}

func (b *bridge) ProposePreference(key, value string) error {
	return b.propose(action.PreferenceUpdate{Key: key, Value: value})
}

func (b *bridge) parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, b.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q, use RFC3339", s)
}
