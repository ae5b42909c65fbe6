package atlas

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"
)

// SnippetParams are the values rendered into a code snippet
type SnippetParams struct {
	Folder          string
	File            string
	NT              int
	DT              float64
	StimType        StimType
	StimKwargs      map[string]float64
	StimNeuID       string
	RespNeuIDs      []string
	Threshold       float64
	TopN            int
	SortByAmplitude bool
}

var stimConstNames = map[StimType]string{
	Rectangular: "atlas.Rectangular",
	Delta:       "atlas.Delta",
	Sinusoidal:  "atlas.Sinusoidal",
	Realistic:   "atlas.Realistic",
}

var snippetTmpl = template.Must(template.New("snippet").Funcs(template.FuncMap{
	"num":     formatFloat,
	"strings": formatStrings,
}).Parse(`fa, err := atlas.FromFile({{printf "%q" .Folder}}, {{printf "%q" .File}})
if err != nil {
	log.Fatal(err)
}

stim, err := atlas.StandardStimulus({{.NT}}, {{num .DT}}, {{.StimConst}}, map[string]float64{
{{- range .Kwargs}}
	{{printf "%q" .Name}}: {{num .Value}},
{{- end}}
})
if err != nil {
	log.Fatal(err)
}

resp, err := fa.Responses(stim, {{num .DT}}, {{printf "%q" .StimNeuID}}, atlas.ResponseOptions{
	RespNeuIDs:      {{strings .RespNeuIDs}},
	Threshold:       {{num .Threshold}},
	TopN:            {{.TopN}},
	SortByAmplitude: {{.SortByAmplitude}},
})
if err != nil {
	log.Fatal(err)
}
`))

type snippetKwarg struct {
	Name  string
	Value float64
}

// CodeSnippet renders Go code that reproduces a response computation
func CodeSnippet(p SnippetParams) (string, error) {
	constName, ok := stimConstNames[p.StimType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStimType, p.StimType)
	}
	descriptors, err := StandardStimKwargs(p.StimType)
	if err != nil {
		return "", err
	}

	kwargs := make([]snippetKwarg, 0, len(descriptors))
	for _, d := range descriptors {
		v, ok := p.StimKwargs[d.Name]
		if !ok {
			return "", fmt.Errorf("snippet for %s stimulus is missing %q", p.StimType, d.Name)
		}
		kwargs = append(kwargs, snippetKwarg{Name: d.Name, Value: v})
	}

	var b strings.Builder
	err = snippetTmpl.Execute(&b, struct {
		SnippetParams
		StimConst string
		Kwargs    []snippetKwarg
	}{p, constName, kwargs})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatStrings(ids []string) string {
	if len(ids) == 0 {
		return "nil"
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	return "[]string{" + strings.Join(quoted, ", ") + "}"
}
