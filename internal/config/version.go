package config

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	errs "github.com/ConCopilot/concopilot/internal/shared/errors"

	"github.com/Masterminds/semver/v3"
)

const snapshotSuffix = "-SNAPSHOT"

var versionPattern = regexp.MustCompile("^(\\d+(?:\\.\\d+)*)(?:-([^`~!@#$%^&*()\\[\\]{}\\\\|;:'\",/?]+))?$")

// Version is a parsed package version such as 1.2.0-beta-SNAPSHOT.
type Version struct {
	Raw      string // normalised form, with an upper-case -SNAPSHOT suffix
	Main     string
	Info     string
	Snapshot bool
}

// ParseVersion validates v and splits it into main version, info and
// snapshot flag.
func ParseVersion(v string) (Version, error) {
	out := Version{Raw: v}
	body := v
	if len(v) >= len(snapshotSuffix) && strings.EqualFold(v[len(v)-len(snapshotSuffix):], snapshotSuffix) {
		body = v[:len(v)-len(snapshotSuffix)]
		out.Raw = body + snapshotSuffix
		out.Snapshot = true
	}
	m := versionPattern.FindStringSubmatch(body)
	if m == nil {
		return Version{}, errs.NewConfigError("version", "illegal version format %q", v)
	}
	out.Main, out.Info = m[1], m[2]
	return out, nil
}

func (v Version) String() string { return v.Raw }

// SortVersions parses and orders versions newest first: by main version
// descending, then info ascending, then releases before snapshots.
func SortVersions(versions []string) ([]Version, error) {
	parsed := make([]Version, 0, len(versions))
	for _, raw := range versions {
		v, err := ParseVersion(raw)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, v)
	}
	sort.SliceStable(parsed, func(i, j int) bool {
		a, b := parsed[i], parsed[j]
		if c := compareMain(a.Main, b.Main); c != 0 {
			return c > 0
		}
		if a.Info != b.Info {
			return a.Info < b.Info
		}
		return !a.Snapshot && b.Snapshot
	})
	return parsed, nil
}

// compareMain orders dotted numeric versions. Three-part versions go through
// semver; longer or shorter ones fall back to segment comparison so 1.2 and
// 1.2.0.1 still order.
func compareMain(a, b string) int {
	if strings.Count(a, ".") == 2 && strings.Count(b, ".") == 2 {
		va, errA := semver.StrictNewVersion(a)
		vb, errB := semver.StrictNewVersion(b)
		if errA == nil && errB == nil {
			return va.Compare(vb)
		}
	}
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		x, y := segment(as, i), segment(bs, i)
		if x != y {
			if x > y {
				return 1
			}
			return -1
		}
	}
	return 0
}

func segment(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	n, _ := strconv.Atoi(parts[i])
	return n
}
