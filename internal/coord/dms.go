package coord

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// DMSPattern matches a degrees-minutes-seconds token such as
// -49°28'14.978" or 25º18′54,615″ S. Some documents mark minutes with a
// double quote as well (-49°28"14.978"). It is unanchored so vertex rules can
// embed it; ParseDMS anchors it.
const DMSPattern = `[-−]?\d{1,3}\s*[°º]\s*\d{1,2}\s*['′’"″”]\s*\d{1,2}(?:[.,]\d+)?\s*(?:''|["″”'′’])?(?:\s*[NSWEOL]\b)?`

var dmsRe = regexp.MustCompile(`^\s*([-−]?)(\d{1,3})\s*[°º]\s*(\d{1,2})\s*['′’"″”]\s*(\d{1,2}(?:[.,]\d+)?)\s*(?:''|["″”'′’])?\s*([NSWEOL])?\s*$`)

// ParseDMS converts an angular token to signed decimal degrees. The result is
// negative when the degree token carries a minus sign or the hemisphere letter
// is S, W or O (oeste).
func ParseDMS(token string) (float64, error) {
	m := dmsRe.FindStringSubmatch(strings.ToUpper(token))
	if m == nil {
		return 0, eris.Errorf("coord: invalid DMS token %q", token)
	}

	deg, err := ParseNumber(m[2], FormatDot)
	if err != nil {
		return 0, eris.Wrapf(err, "coord: DMS degrees in %q", token)
	}
	minutes, err := ParseNumber(m[3], FormatDot)
	if err != nil {
		return 0, eris.Wrapf(err, "coord: DMS minutes in %q", token)
	}
	seconds, err := ParseNumber(strings.ReplaceAll(m[4], ",", "."), FormatDot)
	if err != nil {
		return 0, eris.Wrapf(err, "coord: DMS seconds in %q", token)
	}
	if minutes >= 60 || seconds >= 60 {
		return 0, eris.Errorf("coord: DMS minutes/seconds out of range in %q", token)
	}

	v := deg + minutes/60 + seconds/3600
	switch {
	case m[1] != "":
		v = -v
	case m[5] == "S" || m[5] == "W" || m[5] == "O":
		v = -v
	}
	return v, nil
}
