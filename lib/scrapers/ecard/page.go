package ecard

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"cardalert-backend/lib/apperr"
	"cardalert-backend/lib/timezone"

	"github.com/PuerkitoBio/goquery"
)

// portal datetime strings look like 2019/9/12 22:52:18
const timeLayout = "2006/1/2 15:04:05"

// the results table renders exactly 7 columns per spending row
const consumeColumns = 7

// a run of markup (tags plus the whitespace and &nbsp; entities
// between them) acts as a single field delimiter
var markupRun = regexp.MustCompile(`(?:<[^>]*>(?:\s|&nbsp;?)*)+`)

type UserInfo struct {
	ID   string
	Name string
	Role string
}

// PersonalInfo reads the cardholder identity off a personal-info page.
func (p *Page) PersonalInfo() (UserInfo, error) {
	info := UserInfo{}
	for _, field := range []struct {
		id   string
		dest *string
	}{
		{"ContentPlaceHolder1_txtOutID", &info.ID},
		{"ContentPlaceHolder1_txtUserName", &info.Name},
		{"ContentPlaceHolder1_txtCardSF", &info.Role},
	} {
		sel := p.doc.Find("#" + field.id)
		if sel.Length() == 0 {
			return UserInfo{}, apperr.Recoverable(fmt.Errorf(
				"%w: personal info field %s not found", ErrParse, field.id,
			))
		}
		*field.dest = strings.TrimSpace(sel.Text())
	}
	return info, nil
}

// IsSortDescending reads the state of the result-ordering arrow on a
// consume-info page.
func (p *Page) IsSortDescending() (bool, error) {
	btn := p.doc.Find("#ContentPlaceHolder1_gridView_SortBt")
	if btn.Length() == 0 {
		return false, apperr.Recoverable(fmt.Errorf(
			"%w: sort control not found", ErrParse,
		))
	}
	if btn.HasClass("SortBt_Desc") {
		return true, nil
	}
	if btn.HasClass("SortBt_Asc") {
		return false, nil
	}
	return false, apperr.Recoverable(fmt.Errorf(
		"%w: sort control has unexpected class %q",
		ErrParse, btn.AttrOr("class", ""),
	))
}

// Transactions extracts spending rows from a consume-info results
// page. A missing table is an error, the portal's explicit "no
// records" variant is an empty result, and any row that does not strip
// down to exactly 7 text fields aborts the parse: a column-count
// mismatch means the portal's layout changed and silently mis-mapping
// columns would be far worse than failing.
func (p *Page) Transactions() ([]Transaction, error) {
	table := p.doc.Find("#form1 #ContentPlaceHolder1_gridView")
	if table.Length() == 0 {
		return nil, apperr.Recoverable(fmt.Errorf(
			"%w: results table not found", ErrParse,
		))
	}
	if table.HasClass("gvNoRecords") || table.Find(".gvNoRecords").Length() > 0 {
		return nil, nil
	}

	var out []Transaction
	var rowErr error
	table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if row.HasClass("HeaderStyle") {
			return true
		}
		rowHTML, err := goquery.OuterHtml(row)
		if err != nil {
			rowErr = apperr.Recoverable(fmt.Errorf("%w: %v", ErrParse, err))
			return false
		}

		fields := rowFields(rowHTML)
		if len(fields) == 0 {
			return true
		}
		if len(fields) != consumeColumns {
			rowErr = apperr.Recoverable(fmt.Errorf(
				"%w: row stripped to %d fields, want %d",
				ErrParse, len(fields), consumeColumns,
			))
			return false
		}

		t, err := transactionFromRow(fields)
		if err != nil {
			rowErr = apperr.Recoverable(err)
			return false
		}
		out = append(out, t)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return out, nil
}

// rowFields strips a row's markup down to its text fields. Rows that
// normalize to nothing return an empty slice.
func rowFields(rowHTML string) []string {
	collapsed := strings.TrimSpace(markupRun.ReplaceAllString(rowHTML, "\n"))
	if collapsed == "" {
		return nil
	}
	raw := strings.Split(collapsed, "\n")
	fields := make([]string, len(raw))
	for i, f := range raw {
		fields[i] = strings.TrimSpace(f)
	}
	return fields
}

func transactionFromRow(fields []string) (Transaction, error) {
	when, err := time.ParseInLocation(timeLayout, fields[0], timezone.Location)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: bad datetime %q", ErrParse, fields[0])
	}
	amount, err := ParseAmount(fields[2])
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: bad amount %q", ErrParse, fields[2])
	}
	balance, err := ParseAmount(fields[3])
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: bad balance %q", ErrParse, fields[3])
	}
	return Transaction{
		Time:     fields[0],
		Unix:     when.Unix(),
		Category: fields[1],
		Amount:   amount,
		Balance:  balance,
		Location: fields[6],
	}, nil
}
