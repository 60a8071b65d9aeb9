package domain

import (
	"errors"
	"fmt"
)

// ValidationError indica entrada inválida, rejeitada antes de qualquer mudança de estado
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError cria um ValidationError com mensagem formatada
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidationError verifica se o erro é um ValidationError
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// NotFoundError indica que um recurso referenciado em uma mutação não existe
// Distinto do resultado soft valid=false da validação de reflink
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// NewNotFoundError cria um NotFoundError para um recurso e chave
func NewNotFoundError(resource, key string) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: key}
}

// IsNotFoundError verifica se o erro é um NotFoundError
func IsNotFoundError(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// DuplicateCodeError indica colisão de código na criação de um reflink
type DuplicateCodeError struct {
	Code string
}

func (e *DuplicateCodeError) Error() string {
	return fmt.Sprintf("reflink code already exists: %s", e.Code)
}

// NewDuplicateCodeError cria um DuplicateCodeError para um código
func NewDuplicateCodeError(code string) *DuplicateCodeError {
	return &DuplicateCodeError{Code: code}
}

// IsDuplicateCodeError verifica se o erro é um DuplicateCodeError
func IsDuplicateCodeError(err error) bool {
	var target *DuplicateCodeError
	return errors.As(err, &target)
}

// PersistenceError encapsula qualquer falha da camada de armazenamento
// No caminho de verificação a falha resulta em fail closed; em escritas
// administrativas o erro propaga inalterado ao chamador
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure on %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError encapsula um erro de storage com a operação de origem
func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistenceError verifica se o erro é um PersistenceError
func IsPersistenceError(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}
