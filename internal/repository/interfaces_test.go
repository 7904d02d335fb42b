package repository

import "testing"

func TestImplementationsSatisfyInterfaces(t *testing.T) {
	var (
		_ MessageRepositoryInterface = (*MessageRepository)(nil)
		_ ReceiptRepositoryInterface = (*ReceiptRepository)(nil)
		_ GroupRepositoryInterface   = (*GroupRepository)(nil)
		_ GroupRepositoryInterface   = (*MemoryGroupRepository)(nil)
	)
}
