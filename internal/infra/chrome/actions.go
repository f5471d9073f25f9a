package chrome

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type Element struct {
	Index    int    `json:"index"`
	Tag      string `json:"tag"`
	Text     string `json:"text,omitempty"`
	Selector string `json:"selector"`
}

type PageState struct {
	PageInfo
	Elements []Element `json:"elements"`
}

// MaxStateElements caps the interactive elements reported per page.
const MaxStateElements = 50

// interactiveElementsJS collects visible interactive elements with a CSS
// selector that finds each one again.
const interactiveElementsJS = `(() => {
  const limit = %d;
  const sel = (el) => {
    if (el.id) return '#' + CSS.escape(el.id);
    const parts = [];
    for (let n = el; n && n.nodeType === 1 && n !== document.documentElement; n = n.parentElement) {
      let p = n.tagName.toLowerCase();
      const parent = n.parentElement;
      if (parent) {
        const same = Array.from(parent.children).filter(c => c.tagName === n.tagName);
        if (same.length > 1) p += ':nth-of-type(' + (same.indexOf(n) + 1) + ')';
      }
      parts.unshift(p);
      if (n.id) { parts[0] = '#' + CSS.escape(n.id); break; }
    }
    return parts.join(' > ');
  };
  const nodes = document.querySelectorAll('a[href], button, input, select, textarea, [role=button], [onclick]');
  const out = [];
  for (const el of nodes) {
    if (out.length >= limit) break;
    const r = el.getBoundingClientRect();
    if (r.width === 0 && r.height === 0) continue;
    const text = (el.innerText || el.value || el.getAttribute('aria-label') || el.getAttribute('placeholder') || '').trim().slice(0, 100);
    out.push({index: out.length, tag: el.tagName.toLowerCase(), text: text, selector: sel(el)});
  }
  return out;
})()`

// run executes actions in the session's tab, bounded by the action timeout
// and by ctx.
func (m *Manager) run(ctx context.Context, sessionID string, actions ...chromedp.Action) error {
	t, err := m.Tab(ctx, sessionID)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(t.ctx, m.actionTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err = chromedp.Run(runCtx, actions...)
	m.Touch(sessionID)
	return err
}

func (m *Manager) pageInfo(info *PageInfo) chromedp.Action {
	return chromedp.Tasks{
		chromedp.Location(&info.URL),
		chromedp.Title(&info.Title),
	}
}

func (m *Manager) Navigate(ctx context.Context, sessionID, url string) (PageInfo, error) {
	var info PageInfo
	err := m.run(ctx, sessionID,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		m.pageInfo(&info),
	)
	return info, err
}

func (m *Manager) Click(ctx context.Context, sessionID, selector string) error {
	return m.run(ctx, sessionID, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (m *Manager) Type(ctx context.Context, sessionID, selector, text string) error {
	return m.run(ctx, sessionID,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (m *Manager) State(ctx context.Context, sessionID string) (PageState, error) {
	var st PageState
	err := m.run(ctx, sessionID,
		m.pageInfo(&st.PageInfo),
		chromedp.Evaluate(fmt.Sprintf(interactiveElementsJS, MaxStateElements), &st.Elements),
	)
	if st.Elements == nil {
		st.Elements = []Element{}
	}
	return st, err
}

// Extract returns the visible text of the first element matching selector,
// or of the whole body when selector is empty.
func (m *Manager) Extract(ctx context.Context, sessionID, selector string) (string, error) {
	if selector == "" {
		selector = "body"
	}
	var text string
	err := m.run(ctx, sessionID, chromedp.Text(selector, &text, chromedp.ByQuery, chromedp.NodeReady))
	return text, err
}

func (m *Manager) Scroll(ctx context.Context, sessionID, direction string) error {
	var sign int
	switch direction {
	case "down":
		sign = 1
	case "up":
		sign = -1
	default:
		return errors.New("direction must be 'up' or 'down'")
	}
	js := fmt.Sprintf("window.scrollBy(0, %d * Math.round(window.innerHeight * 0.8))", sign)
	return m.run(ctx, sessionID, chromedp.Evaluate(js, nil))
}

func (m *Manager) GoBack(ctx context.Context, sessionID string) (PageInfo, error) {
	var info PageInfo
	err := m.run(ctx, sessionID,
		chromedp.NavigateBack(),
		chromedp.WaitReady("body", chromedp.ByQuery),
		m.pageInfo(&info),
	)
	return info, err
}

func (m *Manager) Screenshot(ctx context.Context, sessionID string) ([]byte, error) {
	var buf []byte
	err := m.run(ctx, sessionID, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (m *Manager) PDF(ctx context.Context, sessionID string) ([]byte, error) {
	var buf []byte
	err := m.run(ctx, sessionID, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, _, err = page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		return err
	}))
	return buf, err
}
