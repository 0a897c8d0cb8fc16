package report

import (
	"regexp"
	"strings"

	"github.com/flowtune/flowtune/flow"
)

var (
	slackLineRe = regexp.MustCompile(`(?i)\bslack\s*\((MET|VIOLATED)\)\s+(\S+)(?:\s+(\S+))?`)
	// OpenSTA report_checks prints the value first: "   -0.42   slack (VIOLATED)".
	slackTailRe = regexp.MustCompile(`(?i)(\S+)\s+slack\s*\((MET|VIOLATED)\)\s*$`)
	pathTypeRe  = regexp.MustCompile(`(?i)^\s*path type:\s*(max|min)\b`)
	summaryRe   = regexp.MustCompile(`(?i)^\s*(wns|tns|whs)\b(?:\s+(?:max|min))?\s*[:=]?\s*(\S+)(?:\s+(\S+))?`)
	timeUnitRe  = regexp.MustCompile(`(?i)^\s*time\s+1\s*(ps|ns|us)\s*$`)
)

// slackScan accumulates OpenSTA timing results. Setup (max) path slacks
// feed WNS/TNS; hold (min) path slacks feed the worst hold slack. Explicit
// "wns"/"tns" summary lines override values derived from path reports.
type slackScan struct {
	unit     string
	pathType string

	setup    []float64
	hold     []float64
	explicit map[string]float64
}

func newSlackScan() *slackScan {
	return &slackScan{unit: "ns", pathType: "max", explicit: make(map[string]float64)}
}

// line consumes one report line; it returns false when the line is not
// timing-related.
func (s *slackScan) line(b *builder, lineNo int, line string) bool {
	if m := timeUnitRe.FindStringSubmatch(line); m != nil {
		s.unit = strings.ToLower(m[1])
		return true
	}
	if m := pathTypeRe.FindStringSubmatch(line); m != nil {
		s.pathType = strings.ToLower(m[1])
		return true
	}
	tok, next := "", ""
	if m := slackLineRe.FindStringSubmatch(line); m != nil {
		tok, next = m[2], m[3]
	} else if m := slackTailRe.FindStringSubmatch(line); m != nil {
		tok = m[1]
	}
	if tok != "" {
		v, err := s.toNs(tok, next)
		if err != nil {
			b.anomaly(lineNo, flow.MetricWNS, "unparseable slack %q: %v", tok, err)
			return true
		}
		if s.pathType == "min" {
			s.hold = append(s.hold, v)
		} else {
			s.setup = append(s.setup, v)
		}
		return true
	}
	if m := summaryRe.FindStringSubmatch(line); m != nil {
		key := strings.ToLower(m[1])
		v, err := s.toNs(m[2], m[3])
		if err != nil {
			b.anomaly(lineNo, key, "unparseable %s %q: %v", key, m[2], err)
			return true
		}
		s.explicit[key] = v
		return true
	}
	return false
}

func (s *slackScan) toNs(tok, next string) (float64, error) {
	v, unit, err := splitQuantity(tok, next)
	if err != nil {
		return 0, err
	}
	if _, known := timeScale[unit]; !known {
		unit = s.unit
	}
	return scaleTime(v, unit, "ns")
}

// commit writes the timing metrics that were found into b.
func (s *slackScan) commit(b *builder) {
	if len(s.setup) > 0 {
		wns, tns := s.setup[0], 0.0
		for _, v := range s.setup {
			wns = min(wns, v)
			if v < 0 {
				tns += v
			}
		}
		b.set(flow.MetricWNS, wns, aggLast)
		b.set(flow.MetricTNS, tns, aggLast)
	}
	if len(s.hold) > 0 {
		whs := s.hold[0]
		for _, v := range s.hold {
			whs = min(whs, v)
		}
		b.set(flow.MetricWorstHoldSlack, whs, aggLast)
	}
	if v, ok := s.explicit["wns"]; ok {
		b.set(flow.MetricWNS, v, aggLast)
	}
	if v, ok := s.explicit["tns"]; ok {
		b.set(flow.MetricTNS, v, aggLast)
	}
	if v, ok := s.explicit["whs"]; ok {
		b.set(flow.MetricWorstHoldSlack, v, aggLast)
	}
}
