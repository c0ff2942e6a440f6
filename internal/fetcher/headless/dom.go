package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// queryAttributesJS returns one object per matched element holding the
// requested attributes. href and src read the element property first so the
// browser's resolved absolute URL wins over the raw attribute text.
const queryAttributesJS = `(() => {
  const attrs = %s;
  return Array.from(document.querySelectorAll(%s)).map((el) => {
    const out = {};
    for (const name of attrs) {
      let value = null;
      if ((name === "href" || name === "src") && typeof el[name] === "string") {
        value = el[name];
      }
      if (!value) {
        value = el.getAttribute(name);
      }
      if (value) {
        out[name] = String(value);
      }
    }
    return out;
  });
})()`

const computedBackgroundsJS = `(() => Array.from(document.querySelectorAll("[style]"))
  .slice(0, %d)
  .map((el) => window.getComputedStyle(el).backgroundImage)
  .filter((value) => value && value.indexOf("url(") !== -1))()`

// domHandle is a crawler.DOMHandle over an open chromedp tab.
type domHandle struct {
	tabCtx       context.Context
	cancelTab    context.CancelFunc
	release      func()
	queryTimeout time.Duration
	closeOnce    sync.Once
}

func (d *domHandle) QueryAttributes(ctx context.Context, selector string, attrs []string) ([]map[string]string, error) {
	script, err := queryAttributesScript(selector, attrs)
	if err != nil {
		return nil, err
	}
	var out []map[string]string
	if err := d.run(ctx, chromedp.Evaluate(script, &out)); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	return out, nil
}

func (d *domHandle) ComputedBackgrounds(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []string
	if err := d.run(ctx, chromedp.Evaluate(fmt.Sprintf(computedBackgroundsJS, limit), &out)); err != nil {
		return nil, fmt.Errorf("computed backgrounds: %w", err)
	}
	return out, nil
}

// Close closes the tab and frees its render slot. It is safe to call twice.
func (d *domHandle) Close() error {
	d.closeOnce.Do(func() {
		d.cancelTab()
		d.release()
	})
	return nil
}

func (d *domHandle) run(ctx context.Context, action chromedp.Action) error {
	if err := d.tabCtx.Err(); err != nil {
		return fmt.Errorf("tab closed: %w", err)
	}
	qctx, cancel := context.WithTimeout(d.tabCtx, d.queryTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(qctx, action); err != nil {
		return fmt.Errorf("chromedp evaluate: %w", err)
	}
	return nil
}

func queryAttributesScript(selector string, attrs []string) (string, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return "", fmt.Errorf("encode selector: %w", err)
	}
	names, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	return fmt.Sprintf(queryAttributesJS, names, sel), nil
}
