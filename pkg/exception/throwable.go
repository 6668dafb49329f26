// Package exception models the Java throwables raised while resolving
// constant-pool entries.
package exception

import (
	"errors"
	"fmt"
)

// Throwable class names used by the resolution engine.
const (
	ClassThrowable                    = "java/lang/Throwable"
	ClassError                        = "java/lang/Error"
	ClassException                    = "java/lang/Exception"
	ClassRuntimeException             = "java/lang/RuntimeException"
	ClassLinkageError                 = "java/lang/LinkageError"
	ClassNoClassDefFoundError         = "java/lang/NoClassDefFoundError"
	ClassClassFormatError             = "java/lang/ClassFormatError"
	ClassUnsupportedClassVersionError = "java/lang/UnsupportedClassVersionError"
	ClassClassCircularityError        = "java/lang/ClassCircularityError"
	ClassIncompatibleClassChangeError = "java/lang/IncompatibleClassChangeError"
	ClassNoSuchFieldError             = "java/lang/NoSuchFieldError"
	ClassNoSuchMethodError            = "java/lang/NoSuchMethodError"
	ClassIllegalAccessError           = "java/lang/IllegalAccessError"
	ClassAbstractMethodError          = "java/lang/AbstractMethodError"
	ClassInstantiationError           = "java/lang/InstantiationError"
	ClassBootstrapMethodError         = "java/lang/BootstrapMethodError"
	ClassUnsatisfiedLinkError         = "java/lang/UnsatisfiedLinkError"
	ClassVerifyError                  = "java/lang/VerifyError"
	ClassExceptionInInitializerError  = "java/lang/ExceptionInInitializerError"
	ClassVirtualMachineError          = "java/lang/VirtualMachineError"
	ClassOutOfMemoryError             = "java/lang/OutOfMemoryError"
	ClassStackOverflowError           = "java/lang/StackOverflowError"
	ClassInternalError                = "java/lang/InternalError"
	ClassThreadDeath                  = "java/lang/ThreadDeath"
	ClassClassNotFoundException       = "java/lang/ClassNotFoundException"
	ClassReflectiveOperationException = "java/lang/ReflectiveOperationException"
	ClassIllegalArgumentException     = "java/lang/IllegalArgumentException"
	ClassClassCastException           = "java/lang/ClassCastException"
	ClassNegativeArraySizeException   = "java/lang/NegativeArraySizeException"
	ClassNullPointerException         = "java/lang/NullPointerException"
)

// superclasses maps each known throwable class to its direct superclass.
var superclasses = map[string]string{
	ClassError:                        ClassThrowable,
	ClassException:                    ClassThrowable,
	ClassRuntimeException:             ClassException,
	ClassLinkageError:                 ClassError,
	ClassNoClassDefFoundError:         ClassLinkageError,
	ClassClassFormatError:             ClassLinkageError,
	ClassUnsupportedClassVersionError: ClassClassFormatError,
	ClassClassCircularityError:        ClassLinkageError,
	ClassIncompatibleClassChangeError: ClassLinkageError,
	ClassNoSuchFieldError:             ClassIncompatibleClassChangeError,
	ClassNoSuchMethodError:            ClassIncompatibleClassChangeError,
	ClassIllegalAccessError:           ClassIncompatibleClassChangeError,
	ClassAbstractMethodError:          ClassIncompatibleClassChangeError,
	ClassInstantiationError:           ClassIncompatibleClassChangeError,
	ClassBootstrapMethodError:         ClassLinkageError,
	ClassUnsatisfiedLinkError:         ClassLinkageError,
	ClassVerifyError:                  ClassLinkageError,
	ClassExceptionInInitializerError:  ClassLinkageError,
	ClassVirtualMachineError:          ClassError,
	ClassOutOfMemoryError:             ClassVirtualMachineError,
	ClassStackOverflowError:           ClassVirtualMachineError,
	ClassInternalError:                ClassVirtualMachineError,
	ClassThreadDeath:                  ClassError,
	ClassClassNotFoundException:       ClassReflectiveOperationException,
	ClassReflectiveOperationException: ClassException,
	ClassIllegalArgumentException:     ClassRuntimeException,
	ClassClassCastException:           ClassRuntimeException,
	ClassNegativeArraySizeException:   ClassRuntimeException,
	ClassNullPointerException:         ClassRuntimeException,
}

// Throwable is a Java exception or error being thrown.
type Throwable struct {
	Class   string
	Message string
	Cause   *Throwable
}

// New creates a throwable of the given class with a detail message.
func New(class, message string) *Throwable {
	return &Throwable{Class: class, Message: message}
}

// Newf creates a throwable with a formatted detail message.
func Newf(class, format string, args ...any) *Throwable {
	return &Throwable{Class: class, Message: fmt.Sprintf(format, args...)}
}

// WithCause sets the cause and returns t.
func (t *Throwable) WithCause(cause *Throwable) *Throwable {
	t.Cause = cause
	return t
}

func (t *Throwable) Error() string {
	if t.Message == "" {
		return t.Class
	}
	return fmt.Sprintf("%s: %s", t.Class, t.Message)
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (t *Throwable) Unwrap() error {
	if t.Cause == nil {
		return nil
	}
	return t.Cause
}

// IsA reports whether t's class is class or one of its subclasses. Classes
// missing from the hierarchy table only match themselves.
func (t *Throwable) IsA(class string) bool {
	for c := t.Class; c != ""; c = superclasses[c] {
		if c == class {
			return true
		}
	}
	return false
}

// IsError reports whether t is a java.lang.Error.
func (t *Throwable) IsError() bool {
	return t.IsA(ClassError)
}

// Same reports whether t and o have the same class, message and cause chain.
func (t *Throwable) Same(o *Throwable) bool {
	for t != nil && o != nil {
		if t.Class != o.Class || t.Message != o.Message {
			return false
		}
		t, o = t.Cause, o.Cause
	}
	return t == nil && o == nil
}

// As extracts a *Throwable from err.
func As(err error) (*Throwable, bool) {
	var t *Throwable
	if errors.As(err, &t) {
		return t, true
	}
	return nil, false
}

// IsLinkageError reports whether err is a LinkageError. Plain Go errors never
// are.
func IsLinkageError(err error) bool {
	t, ok := err.(*Throwable)
	return ok && t.IsA(ClassLinkageError)
}

// WrapDynamic converts a failure raised while running a bootstrap method
// into what the caller observes: Errors propagate unchanged, anything else is
// wrapped in a BootstrapMethodError.
func WrapDynamic(err error) error {
	if err == nil {
		return nil
	}
	t, ok := err.(*Throwable)
	if !ok {
		return New(ClassBootstrapMethodError, err.Error())
	}
	if t.IsError() {
		return t
	}
	return New(ClassBootstrapMethodError, "bootstrap method initialization exception").WithCause(t)
}

// NoClassDefFound is the error raised when a referenced class cannot be
// loaded.
func NoClassDefFound(className string) *Throwable {
	return New(ClassNoClassDefFoundError, className).
		WithCause(New(ClassClassNotFoundException, className))
}
