package proxy

import (
	"bufio"
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/xmarre/Copperminer/pkg/logger"
)

// ValidAddress reports whether line looks like a usable host:port
// proxy address. Malformed lines from public lists are discarded here.
func ValidAddress(line string) bool {
	if len(line) < 7 || len(line) > 64 {
		return false
	}
	host, port, ok := strings.Cut(line, ":")
	if !ok || host == "" || strings.Contains(port, ":") {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n > 0 && n <= 65535
}

// FetchCandidates downloads raw proxy candidates from the configured
// text-list sources. The wire format is one host:port per line. A
// failing source is logged and skipped; one bad source must not block
// the others. The result is deduplicated in source order.
func FetchCandidates(ctx context.Context, sources []string, client *http.Client, log logger.Logger) []string {
	if log == nil {
		log = logger.GetLogger()
	}

	seen := make(map[string]bool)
	var candidates []string

	for _, src := range sources {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			log.WarnWithFields("invalid proxy source URL", map[string]interface{}{
				"source": src, "error": err.Error(),
			})
			continue
		}

		resp, err := client.Do(req)
		if err != nil {
			log.WarnWithFields("proxy source unreachable", map[string]interface{}{
				"source": src, "error": err.Error(),
			})
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			log.WarnWithFields("proxy source returned non-200", map[string]interface{}{
				"source": src, "status": resp.StatusCode,
			})
			continue
		}

		added := 0
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !ValidAddress(line) || seen[line] {
				continue
			}
			seen[line] = true
			candidates = append(candidates, line)
			added++
		}
		resp.Body.Close()

		log.DebugWithFields("proxy source ingested", map[string]interface{}{
			"source": src, "candidates": added,
		})
	}

	return candidates
}
