package runner

import (
	"context"
	"strings"

	"shadowcheck/internal/db"
	"shadowcheck/internal/util"

	"github.com/pkg/errors"
)

var (
	// ErrNoRepresentative means automatic selection found no identifier in
	// the recent data window.
	ErrNoRepresentative = errors.New("no representative identifier found")
	// ErrRepresentativeMissing means the identifier is absent from a store.
	ErrRepresentativeMissing = errors.New("representative identifier not present")
)

// representative resolves the run's identifier: the command-line override,
// otherwise the configured query on the legacy store. The result must exist
// in both stores when an existence query is configured.
func (r *Runner) representative(ctx context.Context) (string, error) {
	rc := r.cfg.Representative
	id := strings.TrimSpace(r.opts.RepresentativeID)
	if id == "" {
		if strings.TrimSpace(rc.Query) == "" {
			util.Warnf("no representative id: neither --representative-id nor representative.query is set; procedures with identifier parameters will stop discovery")
			return "", nil
		}
		var args []any
		if hasPlaceholder(rc.Query) {
			args = append(args, r.now().AddDate(0, 0, -rc.WindowDays))
		}
		found, ok, err := r.legacy.QueryIdentifier(ctx, rc.Query, args...)
		if err != nil {
			return "", errors.Wrap(err, "select representative")
		}
		id = strings.TrimSpace(found)
		if !ok || id == "" {
			return "", errors.Wrapf(ErrNoRepresentative, "window %d days on %s", rc.WindowDays, r.legacy.Label)
		}
	}
	if strings.TrimSpace(rc.ExistsQuery) == "" {
		return id, nil
	}
	for _, store := range []*db.DB{r.legacy, r.shadow} {
		_, ok, err := store.QueryIdentifier(ctx, rc.ExistsQuery, id)
		if err != nil {
			return "", errors.Wrapf(err, "check representative %s", id)
		}
		if !ok {
			return "", errors.Wrapf(ErrRepresentativeMissing, "id %s on %s", id, store.Label)
		}
	}
	return id, nil
}

func hasPlaceholder(query string) bool {
	return strings.Contains(query, "?") || strings.Contains(query, "$1")
}
