package errs_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/taucoin/taunode/business/web/errs"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Trusted(t *testing.T) {
	errNotFound := errors.New("block not found")

	t.Log("Given the need to pass client safe errors up the call chain.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a trusted error is wrapped by a caller.", testID)
		{
			err := fmt.Errorf("query: %w", errs.NewTrusted(errNotFound, http.StatusNotFound))

			te, ok := errs.AsTrusted(err)
			if !ok {
				t.Fatalf("\t%s\tTest %d:\tShould find the trusted error.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould find the trusted error.", success, testID)

			if te.Status != http.StatusNotFound || te.Error() != errNotFound.Error() {
				t.Fatalf("\t%s\tTest %d:\tShould keep the status and message: got %d %q", failed, testID, te.Status, te.Error())
			}
			t.Logf("\t%s\tTest %d:\tShould keep the status and message.", success, testID)

			if !errors.Is(err, errNotFound) {
				t.Fatalf("\t%s\tTest %d:\tShould expose the wrapped error.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould expose the wrapped error.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the error is not trusted.", testID)
		{
			if te, ok := errs.AsTrusted(errNotFound); ok || te != nil {
				t.Fatalf("\t%s\tTest %d:\tShould not find a trusted error.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not find a trusted error.", success, testID)
		}
	}
}
