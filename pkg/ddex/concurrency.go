package ddex

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"
)

// CancelToken wraps a context.Context for the cancellation checks Parser.Parse
// and ReleaseSeq perform between tokens/entities; cancellation
// is only observed at those boundaries, never mid-entity.
type CancelToken struct {
	ctx context.Context
}

// NewCancelToken wraps ctx in a CancelToken.
func NewCancelToken(ctx context.Context) *CancelToken {
	return &CancelToken{ctx: ctx}
}

// Check returns ErrCancelled or ErrTimeout if ctx has been cancelled or its
// deadline exceeded, nil otherwise.
func (t *CancelToken) Check() error {
	select {
	case <-t.ctx.Done():
		if t.ctx.Err() == context.DeadlineExceeded {
			return ErrTimeout
		}
		return ErrCancelled
	default:
		return nil
	}
}

// BatchParse parses each reader in sources concurrently (data-parallel
// across independent Messages; each Message is still built and
// consumed single-threaded), using golang.org/x/sync/errgroup to run one
// goroutine per source with no cap on how many run at once; cancelling ctx
// reaches every parse through the group's context. It returns one
// result per input, index-correlated with sources: a failed parse leaves a
// nil Message and a non-nil error at that index rather than failing the
// whole batch.
func BatchParse(ctx context.Context, sources []io.Reader, cfg ParserConfig) ([]*Message, []error) {
	msgs := make([]*Message, len(sources))
	errs := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			p := NewParser(cfg)
			msg, err := p.Parse(gctx, src)
			msgs[i] = msg
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()
	return msgs, errs
}

// BatchBuild builds each BuildRequest concurrently, mirroring BatchParse's
// index-correlated, partial-failure-tolerant contract.
func BatchBuild(ctx context.Context, reqs []BuildRequest, cfg BuildConfig) ([][]byte, []BuildReport, []error) {
	outs := make([][]byte, len(reqs))
	reports := make([]BuildReport, len(reqs))
	errs := make([]error, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			out, report, err := Build(gctx, req, cfg)
			outs[i] = out
			reports[i] = report
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()
	return outs, reports, errs
}
