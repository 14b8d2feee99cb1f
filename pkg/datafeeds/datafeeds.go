// Package datafeeds fetches gas price estimates from public Ethereum fee
// oracles and normalizes their speed vocabularies.
package datafeeds

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
)

// Speed is a canonical gas price speed class.
type Speed string

const (
	SpeedSlow    Speed = "slow"
	SpeedMedium  Speed = "medium"
	SpeedFast    Speed = "fast"
	SpeedFastest Speed = "fastest"
)

// speedEquivalence maps feed-specific speed names onto canonical speeds.
var speedEquivalence = map[Speed][]string{
	SpeedSlow:    {"slow", "safeLow", "low", "glacial"},
	SpeedMedium:  {"medium", "standard", "average"},
	SpeedFast:    {"fast", "high"},
	SpeedFastest: {"fastest"},
}

// CanonicalSpeed resolves a possibly feed-specific speed name to its
// canonical class. Unknown names produce a close-match suggestion when one
// exists.
func CanonicalSpeed(name string) (Speed, error) {
	for canonical, names := range speedEquivalence {
		for _, n := range names {
			if strings.EqualFold(name, n) {
				return canonical, nil
			}
		}
	}

	if suggestion := closestSpeedName(name); suggestion != "" {
		return "", opserrors.Newf(opserrors.ErrCodeInvalidRequest,
			"%q is not a valid speed name. Did you mean %q?", name, suggestion)
	}
	return "", opserrors.Newf(opserrors.ErrCodeInvalidRequest, "%q is not a valid speed name", name)
}

// closestSpeedName returns the known speed name nearest to the input, or ""
// when nothing is close enough to be a plausible typo.
func closestSpeedName(name string) string {
	var all []string
	for _, names := range speedEquivalence {
		all = append(all, names...)
	}
	sort.Strings(all)

	best, bestDistance := "", len(name)+1
	for _, candidate := range all {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(candidate))
		if d < bestDistance {
			best, bestDistance = candidate, d
		}
	}
	// More than half the characters wrong is not a typo.
	if bestDistance*2 > len(best) {
		return ""
	}
	return best
}

// Feed is a gas price oracle.
type Feed interface {
	Name() string
	// GasPrice returns the price in wei for a canonical speed. An empty
	// speed selects the feed's default.
	GasPrice(ctx context.Context, speed Speed) (*big.Int, error)
}

// probe fetches and decodes a feed's JSON payload.
func probe(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build feed request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return opserrors.WrapWithContext(opserrors.ErrCodeUnavailable,
			"failed to probe feed", err, map[string]any{"url": url})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return opserrors.WrapWithContext(opserrors.ErrCodeUnavailable,
			"failed to probe feed", fmt.Errorf("status code %d", resp.StatusCode),
			map[string]any{"url": url})
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("malformed feed payload from %s: %w", url, err)
	}
	return nil
}

// gweiToWei converts a fractional gwei amount to integral wei.
func gweiToWei(gwei float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9)).Int(nil)
	return wei
}

// Etherchain is the etherchain.org gas price oracle.
type Etherchain struct {
	// URL overrides the feed endpoint, for tests.
	URL    string
	Client *http.Client
}

// EtherchainURL is the production endpoint of the Etherchain oracle.
const EtherchainURL = "https://www.etherchain.org/api/gasPriceOracle"

func (f *Etherchain) Name() string { return "Etherchain datafeed" }

func (f *Etherchain) GasPrice(ctx context.Context, speed Speed) (*big.Int, error) {
	if speed == "" {
		speed = SpeedFast
	}
	var payload map[string]float64
	if err := probe(ctx, f.httpClient(), f.url(), &payload); err != nil {
		return nil, err
	}

	key := map[Speed]string{
		SpeedSlow:    "safeLow",
		SpeedMedium:  "standard",
		SpeedFast:    "fast",
		SpeedFastest: "fastest",
	}[speed]
	gwei, ok := payload[key]
	if !ok {
		return nil, fmt.Errorf("feed %s did not report speed %q", f.Name(), key)
	}
	return gweiToWei(gwei), nil
}

func (f *Etherchain) url() string {
	if f.URL != "" {
		return f.URL
	}
	return EtherchainURL
}

func (f *Etherchain) httpClient() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Upvest is the fees.upvest.co gas price oracle.
type Upvest struct {
	URL    string
	Client *http.Client
}

// UpvestURL is the production endpoint of the Upvest oracle.
const UpvestURL = "https://fees.upvest.co/estimate_eth_fees"

func (f *Upvest) Name() string { return "Upvest datafeed" }

func (f *Upvest) GasPrice(ctx context.Context, speed Speed) (*big.Int, error) {
	if speed == "" {
		speed = SpeedFastest
	}
	var payload struct {
		Estimates map[string]float64 `json:"estimates"`
	}
	if err := probe(ctx, f.httpClient(), f.url(), &payload); err != nil {
		return nil, err
	}

	gwei, ok := payload.Estimates[string(speed)]
	if !ok {
		return nil, fmt.Errorf("feed %s did not report speed %q", f.Name(), speed)
	}
	return gweiToWei(gwei), nil
}

func (f *Upvest) url() string {
	if f.URL != "" {
		return f.URL
	}
	return UpvestURL
}

func (f *Upvest) httpClient() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Default returns the feeds consulted in preference order.
func Default() []Feed {
	return []Feed{&Upvest{}, &Etherchain{}}
}

// FirstAvailable queries feeds in order and returns the first successful
// gas price.
func FirstAvailable(ctx context.Context, feeds []Feed, speed Speed) (*big.Int, string, error) {
	var lastErr error
	for _, feed := range feeds {
		price, err := feed.GasPrice(ctx, speed)
		if err != nil {
			lastErr = err
			continue
		}
		return price, feed.Name(), nil
	}
	if lastErr == nil {
		lastErr = opserrors.New(opserrors.ErrCodeUnavailable, "no gas price feeds configured")
	}
	return nil, "", lastErr
}
