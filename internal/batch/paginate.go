package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotidal/internal/shared"
)

// DefaultPageDelay is the pause between pages.
const DefaultPageDelay = 500 * time.Millisecond

// Cursor is an opaque continuation token. The empty cursor means there are no more pages.
type Cursor string

// Done reports whether the cursor marks the end of the listing.
func (c Cursor) Done() bool { return c == "" }

// Page is one page of a listing and the cursor for the next one.
type Page[R any] struct {
	Items []R
	Next  Cursor
}

// PageFunc fetches the page addressed by cursor. The first call receives the start cursor
// given to [Paginate], which may be empty when the first page needs none.
type PageFunc[R any] func(ctx context.Context, cursor Cursor) (Page[R], error)

// PageState is the pagination loop's state.
type PageState int

const (
	Fetching PageState = iota
	HasMore
	Done
	Failed
)

func (s PageState) String() string {
	switch s {
	case Fetching:
		return "fetching"
	case HasMore:
		return "has_more"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// PageOptions configures [Paginate].
type PageOptions struct {
	Operation string
	// Delay between pages. Zero keeps [DefaultPageDelay]; negative disables the pause.
	Delay time.Duration
	// MaxPages stops with [shared.ErrPageLimit] when > 0 and more pages remain.
	MaxPages int
	Logger   *log.Logger
	Sleep    SleepFunc
}

func (o PageOptions) withDefaults() PageOptions {
	if o.Operation == "" {
		o.Operation = "paginate"
	}
	if o.Delay == 0 {
		o.Delay = DefaultPageDelay
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Sleep == nil {
		o.Sleep = Sleep
	}
	return o
}

// Paginate fetches pages until the cursor runs out, pausing between pages.
//
// Any fetch error ends the loop; the items gathered so far are returned with it.
func Paginate[R any](ctx context.Context, start Cursor, fetch PageFunc[R], opts PageOptions) ([]R, error) {
	opts = opts.withDefaults()
	op := opts.Operation
	logger := opts.Logger.With("op", op)

	var (
		items  []R
		cursor = start
		seen   = map[Cursor]bool{}
		pages  int
		state  = Fetching
	)

	fail := func(err error) ([]R, error) {
		logger.Debug("pagination state", "state", Failed, "pages", pages)
		PagesTotal.WithLabelValues(op, "failed").Inc()
		return items, fmt.Errorf("%s: page %d: %w", op, pages+1, err)
	}

	for state != Done {
		if state == HasMore {
			if opts.MaxPages > 0 && pages >= opts.MaxPages {
				return fail(shared.ErrPageLimit)
			}
			if err := pause(ctx, opts.Sleep, op, opts.Delay); err != nil {
				return fail(err)
			}
			state = Fetching
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		page, err := fetch(ctx, cursor)
		if err != nil {
			return fail(err)
		}
		pages++
		PagesTotal.WithLabelValues(op, "ok").Inc()
		items = append(items, page.Items...)

		if page.Next.Done() {
			state = Done
			break
		}
		if seen[page.Next] || page.Next == cursor {
			return fail(fmt.Errorf("%w: %s", shared.ErrCursorLoop, page.Next))
		}
		seen[page.Next] = true
		cursor = page.Next
		state = HasMore
		logger.Debug("pagination state", "state", state, "pages", pages, "items", len(items))
	}

	logger.Debug("pagination state", "state", state, "pages", pages, "items", len(items))
	return items, nil
}
