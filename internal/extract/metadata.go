package extract

import (
	"regexp"
	"strings"

	"github.com/sells-group/memorial-cli/internal/coord"
	"github.com/sells-group/memorial-cli/internal/model"
	"github.com/sells-group/memorial-cli/internal/textnorm"
)

// Metadata field names, as reported in ExtractionStats.FieldHits.
const (
	FieldMatricula     = "matricula"
	FieldImovel        = "imovel"
	FieldProprietarios = "proprietarios"
	FieldComarca       = "comarca"
	FieldMunicipio     = "municipio"
	FieldUF            = "uf"
	FieldArea          = "area"
	FieldPerimetro     = "perimetro"
)

const (
	placeName  = `([A-ZÀ-ÖØ-Ý][A-ZÀ-ÖØ-Ý' ]*[A-ZÀ-ÖØ-Ý])`
	metaNumber = `(\d+(?:[.,]\d+)*)`
	regNumber  = `(\d{1,3}(?:\.\d{3})+|\d+)`
	areaUnit   = `(HECTARES?|HA\b|M²|M2\b|METROS\s+QUADRADOS)?`
)

type fieldPattern struct {
	name string
	re   *regexp.Regexp
}

func fp(name, pattern string) fieldPattern {
	return fieldPattern{name: name, re: regexp.MustCompile(pattern)}
}

type metadataField struct {
	name     string
	patterns []fieldPattern
	// apply stores the captured groups into md; false leaves the field
	// absent and lets the next pattern try.
	apply func(md *model.DocumentMetadata, m []string, format coord.NumberFormat) bool
}

var metadataFields = []metadataField{
	{
		name: FieldMatricula,
		patterns: []fieldPattern{
			fp("matricula_numero", `MATR[ÍI]CULA\s*(?:N[º°O]\.?|N[ÚU]MERO)?\s*[:\-]?\s*`+regNumber),
			fp("matriculado_sob", `MATRICULAD[OA]\s+SOB\s+(?:O\s+)?(?:N[º°O]\.?)?\s*`+regNumber),
			fp("registrado_sob", `REGISTRAD[OA]\s+SOB\s+(?:O\s+)?(?:N[º°O]\.?)?\s*(?:[RM]-?)?`+regNumber),
		},
		apply: func(md *model.DocumentMetadata, m []string, _ coord.NumberFormat) bool {
			md.Matricula = m[1]
			return true
		},
	},
	{
		name: FieldImovel,
		patterns: []fieldPattern{
			fp("imovel_label", `IM[ÓO]VEL(?:\s+RURAL|\s+URBANO)?(?:\s+DENOMINADO)?\s*[:\-]\s*([^\n]+)`),
			fp("denominado", `DENOMINAD[OA]\s+["“']?([^"”'\n,;]+)`),
		},
		apply: func(md *model.DocumentMetadata, m []string, _ coord.NumberFormat) bool {
			v := strings.Trim(strings.TrimSpace(m[1]), `.,;:"“”'`)
			if v == "" {
				return false
			}
			md.Imovel = v
			return true
		},
	},
	{
		name: FieldProprietarios,
		patterns: []fieldPattern{
			fp("proprietarios_bloco", `PROPRIET[ÁA]RI[OA]S?(?:\s*\([AOS]+\))?\s*:[ \t]*(?:\n[ \t]*)?((?:[^\n]*\S[^\n]*(?:\n|$))+)`),
			fp("pertencente_a", `(?:PERTENCENTE|DE\s+PROPRIEDADE)\s+(?:A|À|DE|DO|DA)\s+([^\n,;]+)`),
		},
		apply: func(md *model.DocumentMetadata, m []string, _ coord.NumberFormat) bool {
			owners := ownerLines(m[1])
			if len(owners) == 0 {
				return false
			}
			md.Proprietarios = owners
			return true
		},
	},
	{
		name: FieldComarca,
		patterns: []fieldPattern{
			fp("comarca_label", `COMARCA\s*:\s*`+placeName),
			fp("comarca_de", `COMARCA\s+(?:DE|DA|DO)\s+`+placeName),
		},
		apply: func(md *model.DocumentMetadata, m []string, _ coord.NumberFormat) bool {
			md.Comarca = strings.TrimSpace(m[1])
			return true
		},
	},
	{
		name: FieldMunicipio,
		patterns: []fieldPattern{
			fp("municipio_label", `MUNIC[ÍI]PIO\s*:\s*`+placeName),
			fp("municipio_de", `MUNIC[ÍI]PIO\s+(?:DE|DA|DO)\s+`+placeName),
		},
		apply: func(md *model.DocumentMetadata, m []string, _ coord.NumberFormat) bool {
			md.Municipio = strings.TrimSpace(m[1])
			return true
		},
	},
	{
		name: FieldUF,
		patterns: []fieldPattern{
			fp("uf_label", `\bUF\s*[:\-]\s*`+placeName),
			fp("estado_de", `ESTADO\s+(?:DE|DO|DA)\s+`+placeName),
			fp("municipio_sigla", `MUNIC[ÍI]PIO[^\n]*?[-/]\s*([A-Z]{2})\b`),
		},
		apply: func(md *model.DocumentMetadata, m []string, _ coord.NumberFormat) bool {
			md.UF = StateCode(m[1])
			return md.UF != ""
		},
	},
	{
		name: FieldArea,
		patterns: []fieldPattern{
			fp("area_total", `[ÁA]REA(?:\s+TOTAL)?(?:\s+DE|\s*[:=\-]|\s+MEDINDO)?\s*`+metaNumber+`\s*`+areaUnit),
			fp("superficie", `SUPERF[ÍI]CIE(?:\s+DE|\s*:)?\s*`+metaNumber+`\s*`+areaUnit),
		},
		apply: func(md *model.DocumentMetadata, m []string, format coord.NumberFormat) bool {
			v, err := coord.ParseNumber(m[1], format)
			if err != nil {
				return false
			}
			if isHectare(m[2]) {
				v *= 10_000
			}
			md.AreaM2 = &v
			return true
		},
	},
	{
		name: FieldPerimetro,
		patterns: []fieldPattern{
			fp("perimetro", `PER[ÍI]METRO(?:\s+TOTAL)?(?:\s+DE|\s*[:=\-]|\s+MEDINDO)?\s*`+metaNumber),
		},
		apply: func(md *model.DocumentMetadata, m []string, format coord.NumberFormat) bool {
			v, err := coord.ParseNumber(m[1], format)
			if err != nil {
				return false
			}
			md.PerimetroM = &v
			return true
		},
	},
}

// ExtractMetadata reads document-level fields from normalized text. For each
// field the patterns are tried in order and the first one yielding a usable
// value wins; fields without one stay empty. The returned map records which
// pattern filled each field.
func ExtractMetadata(text string, format coord.NumberFormat) (model.DocumentMetadata, map[string]string) {
	var md model.DocumentMetadata
	hits := make(map[string]string, len(metadataFields))

	for _, f := range metadataFields {
		for _, p := range f.patterns {
			m := p.re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			if f.apply(&md, m, format) {
				hits[f.name] = p.name
				break
			}
		}
	}
	return md, hits
}

func isHectare(unit string) bool {
	return strings.HasPrefix(unit, "HA") || strings.HasPrefix(unit, "HECTARE")
}

var (
	separatorLine = regexp.MustCompile(`^[\s\-=_*.·•~]+$`)
	headerLine    = regexp.MustCompile(`^[A-ZÀ-ÖØ-Ý][A-ZÀ-ÖØ-Ý ]{2,}(?:\s*\([A-Z]+\))?\s*:`)
)

// ownerLines splits an owner block into names, dropping short fragments and
// separator rows. A labelled line ("MUNICÍPIO: ...") ends the block once a
// name has been read; before that it is skipped.
func ownerLines(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-•*"))
		line = strings.TrimRight(line, ",;")
		switch {
		case len([]rune(line)) < 4:
		case separatorLine.MatchString(line):
		case headerLine.MatchString(line):
			if len(out) > 0 {
				return out
			}
		default:
			out = append(out, line)
		}
	}
	return out
}

var stateCodes = map[string]string{
	"ACRE":                "AC",
	"ALAGOAS":             "AL",
	"AMAPA":               "AP",
	"AMAZONAS":            "AM",
	"BAHIA":               "BA",
	"CEARA":               "CE",
	"DISTRITO FEDERAL":    "DF",
	"ESPIRITO SANTO":      "ES",
	"GOIAS":               "GO",
	"MARANHAO":            "MA",
	"MATO GROSSO":         "MT",
	"MATO GROSSO DO SUL":  "MS",
	"MINAS GERAIS":        "MG",
	"PARA":                "PA",
	"PARAIBA":             "PB",
	"PARANA":              "PR",
	"PERNAMBUCO":          "PE",
	"PIAUI":               "PI",
	"RIO DE JANEIRO":      "RJ",
	"RIO GRANDE DO NORTE": "RN",
	"RIO GRANDE DO SUL":   "RS",
	"RONDONIA":            "RO",
	"RORAIMA":             "RR",
	"SANTA CATARINA":      "SC",
	"SAO PAULO":           "SP",
	"SERGIPE":             "SE",
	"TOCANTINS":           "TO",
}

var knownCodes = func() map[string]bool {
	m := make(map[string]bool, len(stateCodes))
	for _, c := range stateCodes {
		m[c] = true
	}
	return m
}()

// StateCode maps a Brazilian state name or code to its two-letter code,
// ignoring accents and case. Unknown names fall back to their first two
// letters.
func StateCode(s string) string {
	folded := textnorm.Fold(s)
	if folded == "" {
		return ""
	}
	if code, ok := stateCodes[folded]; ok {
		return code
	}
	if knownCodes[folded] {
		return folded
	}
	r := []rune(folded)
	if len(r) < 2 {
		return ""
	}
	return string(r[:2])
}
