package camt

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bankfeed/bankfeed/internal/ledger"
)

// CAMT054Parser reads ISO 20022 camt.054 debit/credit notifications. It
// extracts the fields reconciliation needs and ignores the rest of the
// schema.
type CAMT054Parser struct{}

func (p *CAMT054Parser) Format() string { return "camt054" }

type camtDocument struct {
	XMLName      xml.Name         `xml:"Document"`
	Notification camtNotification `xml:"BkToCstmrDbtCdtNtfctn"`
}

type camtNotification struct {
	Entries []camtNtfctn `xml:"Ntfctn"`
}

type camtNtfctn struct {
	ID      string     `xml:"Id"`
	Entries []camtNtry `xml:"Ntry"`
}

type camtNtry struct {
	Ref         string        `xml:"NtryRef"`
	Amount      camtAmount    `xml:"Amt"`
	CdtDbtInd   string        `xml:"CdtDbtInd"`
	ValueDate   camtDate      `xml:"ValDt"`
	BookingDate camtDate      `xml:"BookgDt"`
	SvcrRef     string        `xml:"AcctSvcrRef"`
	Details     []camtTxDtls `xml:"NtryDtls>TxDtls"`
}

type camtAmount struct {
	Currency string `xml:"Ccy,attr"`
	Value    string `xml:",chardata"`
}

type camtDate struct {
	Date string `xml:"Dt"`
}

type camtTxDtls struct {
	EndToEndID    string   `xml:"Refs>EndToEndId"`
	StructuredRef string   `xml:"RmtInf>Strd>CdtrRefInf>Ref"`
	Unstructured  []string `xml:"RmtInf>Ustrd"`
	DebtorName    string   `xml:"RltdPties>Dbtr>Nm"`
	DebtorID      string   `xml:"RltdPties>Dbtr>Id>OrgId>Othr>Id"`
	CreditorName  string   `xml:"RltdPties>Cdtr>Nm"`
	CreditorID    string   `xml:"RltdPties>Cdtr>Id>OrgId>Othr>Id"`
}

// Parse decodes the notification into ordered transactions. Entries with an
// unparsable amount or date fail the whole file; a statement with silently
// dropped lines is worse than a failed import.
func (p *CAMT054Parser) Parse(r io.Reader) ([]ledger.Transaction, error) {
	var doc camtDocument
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode camt.054: %w", err)
	}
	if len(doc.Notification.Entries) == 0 {
		return nil, fmt.Errorf("%w: no BkToCstmrDbtCdtNtfctn notifications", ErrInvalidFormat)
	}

	var out []ledger.Transaction
	for _, ntfctn := range doc.Notification.Entries {
		for i, entry := range ntfctn.Entries {
			tx, err := convertEntry(ntfctn.ID, i, entry)
			if err != nil {
				return nil, err
			}
			out = append(out, tx)
		}
	}
	return out, nil
}

func convertEntry(ntfctnID string, idx int, e camtNtry) (ledger.Transaction, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(e.Amount.Value))
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("entry %d amount %q: %w", idx+1, e.Amount.Value, err)
	}
	switch strings.ToUpper(strings.TrimSpace(e.CdtDbtInd)) {
	case "CRDT", "":
	case "DBIT":
		amount = amount.Neg()
	default:
		return ledger.Transaction{}, fmt.Errorf("entry %d: unknown credit/debit indicator %q", idx+1, e.CdtDbtInd)
	}

	dateStr := e.ValueDate.Date
	if dateStr == "" {
		dateStr = e.BookingDate.Date
	}
	valueDate, err := time.Parse("2006-01-02", strings.TrimSpace(dateStr))
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("entry %d value date %q: %w", idx+1, dateStr, err)
	}

	tx := ledger.Transaction{
		NaturalKey: naturalKey(ntfctnID, idx, e),
		ValueDate:  valueDate.UTC(),
		Amount:     amount,
		Currency:   strings.TrimSpace(e.Amount.Currency),
		Reference:  entryReference(e),
	}
	if len(e.Details) > 0 {
		d := e.Details[0]
		// The counterparty is the debtor on money in, the creditor on money out.
		if amount.Sign() >= 0 {
			tx.PartnerName = strings.TrimSpace(d.DebtorName)
			tx.PartnerID = strings.TrimSpace(d.DebtorID)
		} else {
			tx.PartnerName = strings.TrimSpace(d.CreditorName)
			tx.PartnerID = strings.TrimSpace(d.CreditorID)
		}
	}
	return tx, nil
}

// naturalKey prefers the bank's own entry reference and falls back to the
// notification id plus line position.
func naturalKey(ntfctnID string, idx int, e camtNtry) string {
	if ref := strings.TrimSpace(e.SvcrRef); ref != "" {
		return ref
	}
	if ref := strings.TrimSpace(e.Ref); ref != "" {
		return ref
	}
	return fmt.Sprintf("%s/%d", ntfctnID, idx+1)
}

// entryReference picks the most specific remittance reference available:
// structured creditor reference, then unstructured text, then end-to-end id.
func entryReference(e camtNtry) string {
	for _, d := range e.Details {
		if ref := strings.TrimSpace(d.StructuredRef); ref != "" {
			return ref
		}
	}
	for _, d := range e.Details {
		if len(d.Unstructured) > 0 {
			joined := strings.TrimSpace(strings.Join(d.Unstructured, " "))
			if joined != "" {
				return joined
			}
		}
	}
	for _, d := range e.Details {
		if ref := strings.TrimSpace(d.EndToEndID); ref != "" {
			return ref
		}
	}
	return strings.TrimSpace(e.Ref)
}
