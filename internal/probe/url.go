package probe

import "net/url"

func parseURL(raw string) (*url.URL, error) {
	return url.Parse(raw)
}

// resolveRelative resolves location against base, matching the spec's
// requirement to resolve Location relative to the current URL on every hop.
func resolveRelative(base *url.URL, location string) (string, error) {
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
