// Package sktest declares the subset of testing.T that our test helpers
// need, so that helpers can be used from tests and benchmarks alike.
package sktest

// TestingT is an interface which is compatible with testing.T and
// testing.B, used so that test helper packages do not need to import
// "testing" directly.
type TestingT interface {
	Cleanup(func())
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fail()
	FailNow()
	Failed() bool
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Helper()
	Log(args ...interface{})
	Logf(format string, args ...interface{})
	Name() string
	Skip(args ...interface{})
	SkipNow()
	Skipf(format string, args ...interface{})
	Skipped() bool
}
