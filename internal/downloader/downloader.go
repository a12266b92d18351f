// Package downloader implements the §6 download(url, dest) -> Result
// collaborator interface: a parallel-worker HTTP/HTTPS fetcher with a
// per-mirror circuit breaker, so a single dead mirror does not stall every
// other in-flight job.
package downloader

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"

	"github.com/mvossen/opkgo/internal/digest"
	"github.com/mvossen/opkgo/internal/pkgerr"
)

// Job is one file to fetch: a source URL and a local destination path.
// ExpectedMD5/ExpectedSHA256 are optional; when set, the downloaded file's
// digest is verified against them before the job is reported successful
// (the §6 integrity-check collaborator opkg's own fetch path runs inline).
type Job struct {
	URL            string
	DestPath       string
	ExpectedMD5    string
	ExpectedSHA256 string
}

// Result is the outcome of one Job.
type Result struct {
	Job   Job
	Error error
}

// Downloader runs Jobs across a bounded worker pool, tripping a per-mirror
// circuit breaker after repeated failures (cooling down on an exponential
// backoff schedule) so a dead mirror is skipped rather than hammered.
type Downloader struct {
	workers  int
	cacheDir string
	client   *http.Client
	resolver *dnscache.Resolver

	mu       sync.RWMutex
	breakers map[string]*circuit.Breaker
}

// New creates a Downloader with workers concurrent fetchers, caching
// completed downloads under cacheDir.
func New(workers int, cacheDir string) *Downloader {
	resolver := &dnscache.Resolver{}
	go refreshDNSCache(resolver)

	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}

	return &Downloader{
		workers:  workers,
		cacheDir: cacheDir,
		resolver: resolver,
		breakers: make(map[string]*circuit.Breaker),
		client: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				DialContext:           cachedDialContext(resolver, dialer),
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
	}
}

func refreshDNSCache(r *dnscache.Resolver) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		r.Refresh(true)
	}
}

// cachedDialContext resolves hosts through r instead of the default
// resolver, so repeated fetches against one mirror do not re-resolve DNS
// per request.
func cachedDialContext(r *dnscache.Resolver, dialer *net.Dialer) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := r.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		var lastErr error
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, fmt.Errorf("dialing %s: %w", addr, lastErr)
	}
}

// breakerFor returns the circuit breaker for a mirror host, creating one
// that trips once it has counted 5 failures (circuit.ThresholdTripFunc, not
// a consecutive-failure count) and cools down with exponential backoff.
func (d *Downloader) breakerFor(mirror string) *circuit.Breaker {
	d.mu.RLock()
	b, ok := d.breakers[mirror]
	d.mu.RUnlock()
	if ok {
		return b
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.breakers[mirror]; ok {
		return b
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Second
	bo.MaxInterval = 5 * time.Minute
	bo.Multiplier = 2.0
	bo.Reset()

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    bo,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	d.breakers[mirror] = b
	return b
}

func mirrorOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

// Download runs jobs across the worker pool and returns one Result per
// job, in no particular order relative to the input slice's indices (the
// caller can match on Result.Job).
func (d *Downloader) Download(ctx context.Context, jobs []Job) []Result {
	if err := os.MkdirAll(d.cacheDir, 0755); err != nil {
		results := make([]Result, len(jobs))
		for i, job := range jobs {
			results[i] = Result{Job: job, Error: fmt.Errorf("creating cache dir: %w", err)}
		}
		return results
	}

	jobChan := make(chan Job, len(jobs))
	resultChan := make(chan Result, len(jobs))

	var wg sync.WaitGroup
	workers := d.workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobChan {
				resultChan <- Result{Job: job, Error: d.downloadOne(ctx, job)}
			}
		}()
	}

	for _, job := range jobs {
		jobChan <- job
	}
	close(jobChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]Result, 0, len(jobs))
	for result := range resultChan {
		results = append(results, result)
	}
	return results
}

// downloadOne fetches a single job, skipping it if already cached. The
// fetch runs once through the mirror's circuit breaker; a failed fetch is
// not retried.
func (d *Downloader) downloadOne(ctx context.Context, job Job) error {
	if _, err := os.Stat(job.DestPath); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(job.DestPath), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	mirror := mirrorOf(job.URL)
	breaker := d.breakerFor(mirror)

	if !breaker.Ready() {
		return fmt.Errorf("mirror %s: circuit open, skipping %s", mirror, job.URL)
	}

	return breaker.Call(func() error {
		return d.fetchToFile(ctx, job)
	}, 0)
}

func (d *Downloader) fetchToFile(ctx context.Context, job Job) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", job.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: HTTP %d", job.URL, resp.StatusCode)
	}

	tmpPath := job.DestPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}

	_, err = io.Copy(out, resp.Body)
	out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing file: %w", err)
	}

	if err := verifyDigest(tmpPath, job); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, job.DestPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming file: %w", err)
	}
	return nil
}

// verifyDigest checks a downloaded file against job's expected digest, if
// any was given. SHA256 is preferred over MD5 when both are set, matching
// conffile.IsModified's length-based dispatch elsewhere in the module.
func verifyDigest(path string, job Job) error {
	switch {
	case job.ExpectedSHA256 != "":
		actual, err := digest.SHA256(path)
		if err != nil {
			return fmt.Errorf("%w: hashing %s: %v", pkgerr.IO, path, err)
		}
		if actual != job.ExpectedSHA256 {
			return fmt.Errorf("%w: %s: expected sha256 %s, got %s", pkgerr.VersionMismatch, job.URL, job.ExpectedSHA256, actual)
		}
	case job.ExpectedMD5 != "":
		actual, err := digest.MD5(path)
		if err != nil {
			return fmt.Errorf("%w: hashing %s: %v", pkgerr.IO, path, err)
		}
		if actual != job.ExpectedMD5 {
			return fmt.Errorf("%w: %s: expected md5 %s, got %s", pkgerr.VersionMismatch, job.URL, job.ExpectedMD5, actual)
		}
	}
	return nil
}

// CacheDir returns the directory downloaded files are cached under.
func (d *Downloader) CacheDir() string {
	return d.cacheDir
}

// CachePath joins name onto the cache directory.
func (d *Downloader) CachePath(name string) string {
	return filepath.Join(d.cacheDir, name)
}

// BreakerStates reports the open/closed state of every mirror's circuit
// breaker, for a health/status CLI surface.
func (d *Downloader) BreakerStates() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	states := make(map[string]string, len(d.breakers))
	for mirror, b := range d.breakers {
		if b.Tripped() {
			states[mirror] = "open"
		} else {
			states[mirror] = "closed"
		}
	}
	return states
}
