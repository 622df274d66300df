package artifact

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadDistanceMatrix parses the tab-separated distance matrix format: a
// header line of sample IDs preceded by an empty cell, then one line per
// sample holding its ID and its distances.
func ReadDistanceMatrix(r io.Reader) (*DistanceMatrix, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty distance matrix", ErrFormat)
	}
	header := strings.Split(lines[0], "\t")
	if strings.TrimSpace(header[0]) != "" {
		return nil, fmt.Errorf("%w: header must start with an empty cell before the sample ids, got %q", ErrFormat, header[0])
	}
	ids := header[1:]
	if len(lines)-1 != len(ids) {
		return nil, fmt.Errorf("%w: %d data rows for %d ids", ErrFormat, len(lines)-1, len(ids))
	}

	square := make([][]float64, len(ids))
	for i, line := range lines[1:] {
		cells := strings.Split(line, "\t")
		if cells[0] != ids[i] {
			return nil, fmt.Errorf("%w: row %d is %q, want %q", ErrFormat, i+1, cells[0], ids[i])
		}
		square[i], err = parseFloats(cells[1:], len(ids))
		if err != nil {
			return nil, fmt.Errorf("row %q: %w", ids[i], err)
		}
	}
	return FromSquare(ids, square)
}

// WriteDistanceMatrix writes dm in the format ReadDistanceMatrix reads.
func WriteDistanceMatrix(w io.Writer, dm *DistanceMatrix) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("\t" + strings.Join(dm.IDs, "\t") + "\n")
	for i, row := range dm.Rows() {
		bw.WriteString(dm.IDs[i])
		for _, v := range row {
			bw.WriteString("\t" + formatFloat(v))
		}
		bw.WriteString("\n")
	}
	return bw.Flush()
}

// ordination section headers, in file order.
const (
	sectionEigvals     = "Eigvals"
	sectionProportion  = "Proportion explained"
	sectionSpecies     = "Species"
	sectionSite        = "Site"
	sectionBiplot      = "Biplot"
	sectionConstraints = "Site constraints"
)

// WriteOrdination writes o in the scikit-bio ordination text format. The
// species, biplot and site-constraint sections are always empty.
func WriteOrdination(w io.Writer, o *OrdinationResults) error {
	bw := bufio.NewWriter(w)
	writeVector := func(name string, v []float64) {
		fmt.Fprintf(bw, "%s\t%d\n", name, len(v))
		if len(v) > 0 {
			bw.WriteString(joinFloats(v) + "\n")
		}
		bw.WriteString("\n")
	}
	writeVector(sectionEigvals, o.Eigvals)
	writeVector(sectionProportion, o.ProportionExplained)
	fmt.Fprintf(bw, "%s\t0\t0\n\n", sectionSpecies)

	fmt.Fprintf(bw, "%s\t%d\t%d\n", sectionSite, len(o.Samples), o.Dims())
	for i, row := range o.Samples {
		bw.WriteString(o.SampleIDs[i] + "\t" + joinFloats(row) + "\n")
	}
	bw.WriteString("\n")

	fmt.Fprintf(bw, "%s\t0\t0\n\n", sectionBiplot)
	fmt.Fprintf(bw, "%s\t0\t0\n", sectionConstraints)
	return bw.Flush()
}

// ReadOrdination parses the scikit-bio ordination text format. Species,
// biplot and site-constraint rows are skipped.
func ReadOrdination(r io.Reader) (*OrdinationResults, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}
	o := &OrdinationResults{ShortMethodName: "PCoA", LongMethodName: "Principal Coordinate Analysis"}
	p := &sectionParser{lines: lines}

	if o.Eigvals, err = p.vector(sectionEigvals); err != nil {
		return nil, err
	}
	if o.ProportionExplained, err = p.vector(sectionProportion); err != nil {
		return nil, err
	}
	if _, _, err = p.table(sectionSpecies); err != nil {
		return nil, err
	}
	if o.SampleIDs, o.Samples, err = p.table(sectionSite); err != nil {
		return nil, err
	}
	if _, _, err = p.table(sectionBiplot); err != nil {
		return nil, err
	}
	if _, _, err = p.table(sectionConstraints); err != nil {
		return nil, err
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// sectionParser walks the blank-line separated sections of an ordination
// file.
type sectionParser struct {
	lines []string
	pos   int
}

func (p *sectionParser) next() (string, bool) {
	for p.pos < len(p.lines) && strings.TrimSpace(p.lines[p.pos]) == "" {
		p.pos++
	}
	if p.pos == len(p.lines) {
		return "", false
	}
	p.pos++
	return p.lines[p.pos-1], true
}

// header reads a section header and returns its counts.
func (p *sectionParser) header(name string, nCounts int) ([]int, error) {
	line, ok := p.next()
	if !ok {
		return nil, fmt.Errorf("%w: missing %q section", ErrFormat, name)
	}
	cells := strings.Split(line, "\t")
	if cells[0] != name || len(cells) != nCounts+1 {
		return nil, fmt.Errorf("%w: expected %q header with %d counts, got %q", ErrFormat, name, nCounts, line)
	}
	counts := make([]int, nCounts)
	for i, c := range cells[1:] {
		v, err := strconv.Atoi(c)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("%w: bad count %q in %q header", ErrFormat, c, name)
		}
		counts[i] = v
	}
	return counts, nil
}

func (p *sectionParser) vector(name string) ([]float64, error) {
	counts, err := p.header(name, 1)
	if err != nil {
		return nil, err
	}
	if counts[0] == 0 {
		return []float64{}, nil
	}
	line, ok := p.next()
	if !ok {
		return nil, fmt.Errorf("%w: %q section has no values", ErrFormat, name)
	}
	v, err := parseFloats(strings.Split(line, "\t"), counts[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

func (p *sectionParser) table(name string) ([]string, [][]float64, error) {
	counts, err := p.header(name, 2)
	if err != nil {
		return nil, nil, err
	}
	rows, cols := counts[0], counts[1]
	ids := make([]string, 0, rows)
	values := make([][]float64, 0, rows)
	for i := 0; i < rows; i++ {
		line, ok := p.next()
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q section has %d of %d rows", ErrFormat, name, i, rows)
		}
		cells := strings.Split(line, "\t")
		row, err := parseFloats(cells[1:], cols)
		if err != nil {
			return nil, nil, fmt.Errorf("%s row %q: %w", name, cells[0], err)
		}
		ids = append(ids, cells[0])
		values = append(values, row)
	}
	return ids, values, nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading lines: %w", err)
	}
	// Trailing blank lines carry no data.
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

func parseFloats(cells []string, want int) ([]float64, error) {
	if len(cells) != want {
		return nil, fmt.Errorf("%w: %d values, want %d", ErrFormat, len(cells), want)
	}
	out := make([]float64, want)
	for i, c := range cells {
		v, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		out[i] = v
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func joinFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = formatFloat(x)
	}
	return strings.Join(parts, "\t")
}
