// Package transcode streams tracks to clients, transcoding on demand
// through external decoder/encoder processes and memoizing the results in
// the disk cache.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/semaphore"

	"sonora/internal/cache"
	"sonora/internal/library"
)

// ErrNoTranscoder is returned when no command template configuration can
// produce the requested format pair. This is an operator misconfiguration,
// reported as-is and never retried.
var ErrNoTranscoder = errors.New("no transcoding configuration")

// ClientPrefs are the per-client stored streaming preferences.
type ClientPrefs struct {
	Format  string
	Bitrate int
}

// Request describes one stream request.
type Request struct {
	Track      library.Track
	ArtistName string
	AlbumName  string

	// Format is the explicit request parameter: empty means unset, "raw"
	// forces the source format through untouched.
	Format string
	// MaxBitRate caps the output bitrate in kbps; 0 means no limit.
	MaxBitRate int
	// EstimateLength asks for an estimated content length on transcodes.
	EstimateLength bool

	Client ClientPrefs
}

// Transcoder decides how to serve stream requests and runs the subprocess
// pipelines that back them.
type Transcoder struct {
	log           *slog.Logger
	cache         *cache.Cache
	templates     map[string]string
	defaultTarget string
	sem           *semaphore.Weighted
}

// New builds a Transcoder. templates holds the command configuration keyed
// "transcoder_<src>_<dst>", "decoder_<src>", "encoder_<dst>" with generic
// "decoder", "encoder" and "transcoder" fallbacks. maxConcurrent bounds how
// many subprocess pipelines run at once.
func New(logger *slog.Logger, transcodeCache *cache.Cache, templates map[string]string, defaultTarget string, maxConcurrent int64) *Transcoder {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	return &Transcoder{
		log:           logger,
		cache:         transcodeCache,
		templates:     templates,
		defaultTarget: defaultTarget,
		sem:           semaphore.NewWeighted(maxConcurrent),
	}
}

// decision is the resolved output parameters for one request.
type decision struct {
	srcFormat  string
	dstFormat  string
	dstBitrate int
	mimeType   string
	transcode  bool
	cacheKey   string
}

// resolve applies the format and bitrate rules: explicit request parameter
// over client preference over source format, bitrate as the minimum of
// source, preference and request cap.
func (t *Transcoder) resolve(req Request) decision {
	srcFormat := formatOf(req.Track.Path)
	dstFormat := srcFormat
	dstBitrate := req.Track.Bitrate

	usingDefaultFormat := false
	requestFormat := strings.ToLower(req.Format)
	switch {
	case requestFormat == "raw":
		dstFormat = srcFormat
	case requestFormat != "":
		dstFormat = requestFormat
	case req.Client.Format != "":
		dstFormat = strings.ToLower(req.Client.Format)
	default:
		usingDefaultFormat = true
	}

	if req.Client.Bitrate > 0 && req.Client.Bitrate < dstBitrate {
		dstBitrate = req.Client.Bitrate
	}
	if req.MaxBitRate > 0 && dstBitrate > req.MaxBitRate {
		dstBitrate = req.MaxBitRate
		if usingDefaultFormat && t.defaultTarget != "" {
			dstFormat = strings.ToLower(t.defaultTarget)
		}
	}

	d := decision{
		srcFormat:  srcFormat,
		dstFormat:  dstFormat,
		dstBitrate: dstBitrate,
		transcode:  dstFormat != srcFormat || dstBitrate != req.Track.Bitrate,
	}
	if d.transcode {
		d.mimeType = library.MimeFor(dstFormat)
		d.cacheKey = fmt.Sprintf("%s-%d.%s", req.Track.ID, dstBitrate, dstFormat)
	} else {
		d.mimeType = req.Track.ContentType
	}
	return d
}

// Open resolves a request and returns the byte stream serving it: the raw
// file, a cached transcode, or a fresh subprocess pipeline teed into the
// cache. The stream's completion callback fires only when the full content
// was delivered, signaling the caller to record the play.
func (t *Transcoder) Open(ctx context.Context, req Request) (*Stream, error) {
	d := t.resolve(req)

	if !d.transcode {
		return t.openFile(req.Track.Path, d)
	}

	if path, err := t.cache.Get(d.cacheKey); err == nil {
		t.log.Debug("serving cached transcode", "key", d.cacheKey)
		return t.openFile(path, d)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		return nil, err
	}

	return t.openPipeline(ctx, req, d)
}

func (t *Transcoder) openFile(path string, d decision) (*Stream, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	return &Stream{
		reader:          file,
		MimeType:        d.mimeType,
		EstimatedLength: info.Size(),
		Transcoded:      d.transcode,
	}, nil
}

func (t *Transcoder) openPipeline(ctx context.Context, req Request, d decision) (*Stream, error) {
	transcoderTemplate, decoderTemplate, encoderTemplate, err := t.templatesFor(d.srcFormat, d.dstFormat)
	if err != nil {
		return nil, err
	}

	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	values := placeholderValues{
		srcPath:    req.Track.Path,
		srcFormat:  d.srcFormat,
		dstFormat:  d.dstFormat,
		dstBitrate: d.dstBitrate,
		track:      req.Track,
		artistName: req.ArtistName,
		albumName:  req.AlbumName,
	}

	var procs *processReader
	if transcoderTemplate != "" {
		procs, err = startSingle(buildCommandLine(transcoderTemplate, values))
	} else {
		procs, err = startPair(
			buildCommandLine(decoderTemplate, values),
			buildCommandLine(encoderTemplate, values),
		)
	}
	if err != nil {
		t.sem.Release(1)
		return nil, fmt.Errorf("start transcoding process: %w", err)
	}

	var estimate int64
	if req.EstimateLength {
		estimate = int64(d.dstBitrate) * 1000 * int64(req.Track.Duration) / 8
	}

	staged, err := t.cache.SetGenerated(d.cacheKey, procs)
	if err != nil {
		procs.Close()
		t.sem.Release(1)
		return nil, err
	}
	if estimate > 0 {
		// Allow a short drain on disconnect so nearly-finished
		// transcodes still land in the cache.
		staged.SetDrainBudget(estimate / 20)
	}

	t.log.Info("transcoding",
		"track", req.Track.ID,
		"src", fmt.Sprintf("%s at %dkbps", d.srcFormat, req.Track.Bitrate),
		"dst", fmt.Sprintf("%s at %dkbps", d.dstFormat, d.dstBitrate),
	)

	release := func() { t.sem.Release(1) }
	return &Stream{
		reader:          staged,
		closers:         []io.Closer{staged, procs},
		onRelease:       release,
		MimeType:        d.mimeType,
		EstimatedLength: estimate,
		Transcoded:      true,
	}, nil
}

// templatesFor picks the command configuration for a format pair: an exact
// transcoder template wins, then a decoder/encoder pair, then the generic
// transcoder.
func (t *Transcoder) templatesFor(srcFormat string, dstFormat string) (transcoder string, decoder string, encoder string, err error) {
	transcoder = t.templates["transcoder_"+srcFormat+"_"+dstFormat]
	decoder = firstNonEmpty(t.templates["decoder_"+srcFormat], t.templates["decoder"])
	encoder = firstNonEmpty(t.templates["encoder_"+dstFormat], t.templates["encoder"])

	if transcoder == "" && (decoder == "" || encoder == "") {
		transcoder = t.templates["transcoder"]
		if transcoder == "" {
			return "", "", "", fmt.Errorf("%w: no way to transcode from %s to %s", ErrNoTranscoder, srcFormat, dstFormat)
		}
	}

	return transcoder, decoder, encoder, nil
}

func formatOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
