// Package snapshot fetches participant data for a draw cutoff, checks and
// filters it, derives the snapshot commitment and archives the raw response.
package snapshot

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/likelottery/pkg/commitment"
)

//go:embed schema.json
var drawDataSchema string

const schemaURL = "https://likelottery.dev/schemas/draw-data.json"

var ErrInvalidData = errors.New("snapshot: invalid draw data")

// DrawData is the participant data service response.
type DrawData struct {
	Lottery        LotteryInfo `json:"lottery"`
	BeforeDatetime string      `json:"before_datetime"`
	Participants   []Record    `json:"participants"`
	Summary        Summary     `json:"summary"`
}

type LotteryInfo struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// Record is one participant and the balance counted for the draw.
type Record struct {
	Participant  Profile     `json:"participant"`
	TotalBalance json.Number `json:"total_balance"`
}

type Profile struct {
	FID               uint64   `json:"fid"`
	Username          string   `json:"username"`
	DisplayName       string   `json:"display_name,omitempty"`
	Avatar            string   `json:"avatar,omitempty"`
	WalletAddress     string   `json:"wallet_address,omitempty"`
	NeynarScore       float64  `json:"neynar_score,omitempty"`
	FarcasterApproved bool     `json:"farcaster_approved"`
	Addresses         []string `json:"addresses"`
}

type Summary struct {
	TotalParticipants int         `json:"total_participants"`
	TotalBalance      json.Number `json:"total_balance"`
}

var compiledSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(drawDataSchema)); err != nil {
		panic(fmt.Sprintf("snapshot: add schema: %v", err))
	}
	return c.MustCompile(schemaURL)
}()

// Decode validates raw against the draw data schema and decodes it.
func Decode(raw []byte) (*DrawData, error) {
	var doc any
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	if err := d.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data DrawData
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &data, nil
}

// Balance returns the record's balance as an integer.
func (r Record) Balance() (*big.Int, error) {
	return parseInteger(r.TotalBalance)
}

func parseInteger(n json.Number) (*big.Int, error) {
	if n == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(n.String(), 10)
	if !ok {
		return nil, fmt.Errorf("%w: balance %q is not an integer", ErrInvalidData, n)
	}
	return v, nil
}

// HashInputs converts every record for hashing, unfiltered.
func (d *DrawData) HashInputs() ([]commitment.Participant, error) {
	return participants(d.Participants)
}

func participants(records []Record) ([]commitment.Participant, error) {
	out := make([]commitment.Participant, 0, len(records))
	for _, r := range records {
		bal, err := r.Balance()
		if err != nil {
			return nil, err
		}
		out = append(out, commitment.NewParticipant(r.Participant.FID, bal))
	}
	return out, nil
}

// Reconcile lists disagreements between the summary and the participant list.
func (d *DrawData) Reconcile() []string {
	var issues []string
	if d.Summary.TotalParticipants != len(d.Participants) {
		issues = append(issues, fmt.Sprintf("summary counts %d participants, list has %d",
			d.Summary.TotalParticipants, len(d.Participants)))
	}
	sum := new(big.Int)
	for _, r := range d.Participants {
		bal, err := r.Balance()
		if err != nil {
			issues = append(issues, err.Error())
			continue
		}
		sum.Add(sum, bal)
	}
	want, err := parseInteger(d.Summary.TotalBalance)
	if err != nil {
		issues = append(issues, err.Error())
	} else if want.Cmp(sum) != 0 {
		issues = append(issues, fmt.Sprintf("summary total balance %s, participants sum to %s", want, sum))
	}
	return issues
}
