package attachment

import "time"

const (
	testAuthority = "org.deliverycore.provider"
	testPlaintext = "attachment plaintext for materializer tests"
	testAsyncWait = 2 * time.Second
)

var testID = ID{RowID: 42, UniqueID: 7}
