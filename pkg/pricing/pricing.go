package pricing

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/menta2k/shelf-checkout/pkg/types"
)

// ErrUnknownLabel matches any UnknownLabelError
var ErrUnknownLabel = errors.New("label not in price catalog")

// UnknownLabelError reports a decision whose label has no catalog price.
// It signals a broken contract between detector and catalog.
type UnknownLabelError struct {
	Label string
}

func (e *UnknownLabelError) Error() string {
	return fmt.Sprintf("label %q not in price catalog", e.Label)
}

// Is makes errors.Is(err, ErrUnknownLabel) work
func (e *UnknownLabelError) Is(target error) bool {
	return target == ErrUnknownLabel
}

// ReceiptLine is one priced item
type ReceiptLine struct {
	Label     string `json:"label"`
	Count     int    `json:"count"`
	UnitPrice Money  `json:"unit_price"`
	LineTotal Money  `json:"line_total"`
}

// Receipt is the priced result of one checkout
type Receipt struct {
	Items map[string]int `json:"items"`
	Lines []ReceiptLine  `json:"lines"`
	Total Money          `json:"total"`
}

// Price looks up every decided label and sums the total in cents.
// Each label counts once regardless of how many raw detections it had.
func Price(decisions types.DecisionSet, catalog *Catalog) (Receipt, error) {
	receipt := Receipt{
		Items: make(map[string]int, len(decisions)),
		Lines: make([]ReceiptLine, 0, len(decisions)),
	}

	for _, label := range decisions.Labels() {
		unit, ok := catalog.Lookup(label)
		if !ok {
			return Receipt{}, &UnknownLabelError{Label: label}
		}
		count := 1
		line := ReceiptLine{
			Label:     label,
			Count:     count,
			UnitPrice: unit,
			LineTotal: unit * Money(count),
		}
		receipt.Items[label] = count
		receipt.Lines = append(receipt.Lines, line)
		receipt.Total += line.LineTotal
	}

	sort.SliceStable(receipt.Lines, func(i, j int) bool {
		return catalog.position(receipt.Lines[i].Label) < catalog.position(receipt.Lines[j].Label)
	})

	return receipt, nil
}
