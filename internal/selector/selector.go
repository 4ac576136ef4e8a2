// Package selector picks which channels a collection run scans.
package selector

import (
	"strings"

	"github.com/MikeSquared-Agency/tgcollector/internal/transport"
)

// DefaultKeywords match channel names that tend to post proxy configs.
var DefaultKeywords = []string{
	"v2ray", "proxy", "config", "vpn", "server",
	"vmess", "vless", "trojan", "shadowsocks",
	"mtproto", "outline", "network",
}

// Policy controls Select. The zero value is not useful; start from
// DefaultPolicy.
type Policy struct {
	// IncludeDirectUsers admits direct conversations alongside groups and channels.
	IncludeDirectUsers bool
	// MaxSelected caps the result; 0 means unbounded.
	MaxSelected int

	keywords []string
	explicit bool
}

// DefaultPolicy filters by DefaultKeywords, excludes direct users and has no cap.
func DefaultPolicy() Policy {
	return Policy{}
}

// WithKeywords replaces the keyword set. An empty set disables filtering.
func (p Policy) WithKeywords(keywords ...string) Policy {
	p.keywords = make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			p.keywords = append(p.keywords, k)
		}
	}
	p.explicit = true
	return p
}

// Keywords returns the effective keyword set.
func (p Policy) Keywords() []string {
	if !p.explicit {
		return DefaultKeywords
	}
	return p.keywords
}

// Result is the outcome of a selection.
type Result struct {
	IDs      []transport.ChannelID
	Scanned  int
	Matched  int
	Selected int
}

// Select filters channels in enumeration order. When MaxSelected is reached
// the scan stops, so the first matches encountered win.
func Select(channels []transport.Descriptor, p Policy) Result {
	keywords := p.Keywords()

	var res Result
	for _, ch := range channels {
		res.Scanned++
		if ch.Kind == transport.KindDirectUser && !p.IncludeDirectUsers {
			continue
		}
		if !matches(ch.Name, keywords) {
			continue
		}
		res.Matched++
		res.IDs = append(res.IDs, ch.ID)
		if p.MaxSelected > 0 && len(res.IDs) >= p.MaxSelected {
			break
		}
	}
	res.Selected = len(res.IDs)
	return res
}

func matches(name string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	name = strings.ToLower(name)
	for _, k := range keywords {
		if strings.Contains(name, k) {
			return true
		}
	}
	return false
}
