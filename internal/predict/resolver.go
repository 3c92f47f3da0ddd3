package predict

import (
	"fmt"
	"strings"
)

// Resolver turns the image path returned by the predictor into an
// absolute URL the viewer can fetch.
type Resolver interface {
	Resolve(base, imagePath string) string
}

// HostResolver joins the predictor base and the image path with exactly
// one slash: "/static/a.jpg" under "http://h:8000" is "http://h:8000/static/a.jpg".
type HostResolver struct{}

func (HostResolver) Resolve(base, imagePath string) string {
	if imagePath == "" {
		return ""
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(imagePath, "/")
}

// RelativeResolver is for predictors that report paths relative to their
// working directory ("../images/a.jpg"). The first "../" is dropped
// before joining.
type RelativeResolver struct{}

func (RelativeResolver) Resolve(base, imagePath string) string {
	if imagePath == "" {
		return ""
	}
	return HostResolver{}.Resolve(base, strings.Replace(imagePath, "../", "", 1))
}

// NewResolver returns the resolver for mode ("host" or "relative").
// An empty mode selects host.
func NewResolver(mode string) (Resolver, error) {
	switch mode {
	case "", "host":
		return HostResolver{}, nil
	case "relative":
		return RelativeResolver{}, nil
	default:
		return nil, fmt.Errorf("unknown url mode %q", mode)
	}
}
