// Package dispatch publishes the methods of an application instance as named
// operations.
//
// Publish walks the instance's method set once, promoted methods of embedded
// types included, and freezes the result into a Table. Go's promotion rules
// give the outermost definition of a name precedence. The lifecycle methods
// of instance.Base and names reserved by the server routes are never
// published, so the exposed surface can be audited with Describe.
//
// Operation names are the method name with a lower-case first letter:
// Greet becomes "greet". Supported signatures:
//
//	func (a *App) Op(args...)
//	func (a *App) Op(ctx context.Context, args...)
//	... returning (), (T), (error) or (T, error)
//
// Arguments travel as JSON values and are decoded into the parameter types.
package dispatch
