package validate_test

import (
	"errors"
	"testing"

	"github.com/taucoin/taunode/foundation/validate"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

type transfer struct {
	To     string `json:"to" validate:"required,eth_addr"`
	Amount int64  `json:"amount" validate:"gte=0"`
	Memo   string `json:"-"`
}

func Test_Check(t *testing.T) {
	t.Log("Given the need to validate request models.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen handling a valid model.", testID)
		{
			tr := transfer{To: "0xF01813E4B85e178A83e29B8E7bF26BD830a25f32", Amount: 10}
			if err := validate.Check(tr); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould pass validation: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould pass validation.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen handling an invalid model.", testID)
		{
			err := validate.Check(transfer{To: "bill", Amount: -1})
			if !validate.IsFieldErrors(err) {
				t.Fatalf("\t%s\tTest %d:\tShould get field errors: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould get field errors.", success, testID)

			fields := validate.GetFieldErrors(err).Fields()
			for _, name := range []string{"to", "amount"} {
				if _, exists := fields[name]; !exists {
					t.Fatalf("\t%s\tTest %d:\tShould name the field by its json tag %q: got %v", failed, testID, name, fields)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould name the fields by their json tags.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen handling a missing required value.", testID)
		{
			fields := validate.GetFieldErrors(validate.Check(transfer{})).Fields()
			if len(fields) != 1 || fields["to"] == "" {
				t.Fatalf("\t%s\tTest %d:\tShould report only the required field: got %v", failed, testID, fields)
			}
			t.Logf("\t%s\tTest %d:\tShould report only the required field.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen handling other errors.", testID)
		{
			err := validate.NewFieldsError("fee", errors.New("too high"))
			if got := validate.GetFieldErrors(err).Fields()["fee"]; got != "too high" {
				t.Fatalf("\t%s\tTest %d:\tShould build a single field error: got %q", failed, testID, got)
			}

			if validate.IsFieldErrors(errors.New("plain")) || validate.GetFieldErrors(errors.New("plain")) != nil {
				t.Fatalf("\t%s\tTest %d:\tShould not treat a plain error as field errors.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould tell field errors from plain errors.", success, testID)
		}
	}
}
