package imagecache

import (
	"context"
	"io"
)

// Downloader fetches the raw bytes of an identifier into a sink.
// It returns the instant in epoch milliseconds after which the fetched
// copy is stale; a negative value or an error signals failure.
// Implementations are responsible for honoring ctx cancellation and for
// any retry or timeout policy.
type Downloader interface {
	DownloadToStream(ctx context.Context, identifier string, writer io.Writer) (int64, error)
}
