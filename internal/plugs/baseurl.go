package plugs

import (
	"net/http"
	"net/url"
	"strings"
)

// rewriteBaseURL repoints an adapter-built request at an overridden base
// URL: scheme and host are replaced, and if the default base carried a
// path prefix (e.g. "/v1"), that prefix is swapped for the override's.
func rewriteBaseURL(req *http.Request, base, defaultBase string) error {
	rewritten, err := swapBase(req.URL.String(), base, defaultBase)
	if err != nil {
		return err
	}
	u, err := url.Parse(rewritten)
	if err != nil {
		return err
	}
	req.URL = u
	req.Host = u.Host
	return nil
}

// swapBase computes the rewritten URL string for target given the
// configured base and the adapter's default base.
func swapBase(target, base, defaultBase string) (string, error) {
	tu, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	bu, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return "", err
	}
	du, err := url.Parse(strings.TrimSuffix(defaultBase, "/"))
	if err != nil {
		return "", err
	}

	endpoint := tu.Path
	if du.Path != "" && strings.HasPrefix(endpoint, du.Path) {
		endpoint = strings.TrimPrefix(endpoint, du.Path)
	}
	tu.Scheme = bu.Scheme
	tu.Host = bu.Host
	tu.Path = bu.Path + endpoint
	return tu.String(), nil
}
