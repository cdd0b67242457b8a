package alerting

import (
	"strings"
	"time"

	"github.com/good-yellow-bee/sentinel/internal/models"
)

// Matches reports whether tc satisfies every condition of the rule. Unset
// conditions pass. Time-of-day and weekday checks use loc.
func (cr *CompiledRule) Matches(tc models.TriggerContext, loc *time.Location) bool {
	subjectType := strings.ToLower(tc.SubjectType)

	if cr.subjectTypes != nil && tc.HasSubject() {
		if _, ok := cr.subjectTypes[subjectType]; !ok {
			return false
		}
	}

	if cr.subjectIDs != nil && tc.HasSubject() {
		if _, ok := cr.subjectIDs[tc.SubjectID]; !ok {
			return false
		}
	}

	if cr.cameras != nil && tc.HasCamera() {
		if _, ok := cr.cameras[tc.CameraID]; !ok {
			return false
		}
	}

	if cr.hasMinConf && tc.Confidence < cr.minConf {
		return false
	}

	if cr.window != nil || cr.hasDays {
		if loc == nil {
			loc = time.UTC
		}
		at := tc.Timestamp.In(loc)
		if cr.hasDays && !cr.days[at.Weekday()] {
			return false
		}
		if cr.window != nil && !cr.window.contains(at.Hour()*60+at.Minute()) {
			return false
		}
	}

	if cr.excluded != nil && subjectType != "" {
		if _, ok := cr.excluded[subjectType]; ok {
			return false
		}
	}

	if cr.expr != nil {
		ok, err := cr.expr.Match(tc, loc)
		if err != nil || !ok {
			return false
		}
	}

	return true
}
