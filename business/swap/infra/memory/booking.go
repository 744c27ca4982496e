package memory

import (
	"context"
	"sync"

	"github.com/fd1az/swapengine/business/swap/app"
	"github.com/fd1az/swapengine/business/swap/domain"
	"github.com/fd1az/swapengine/internal/apperror"
)

// BookingService keeps bookings and their lock holders in memory.
type BookingService struct {
	mu       sync.Mutex
	bookings map[string]*domain.Booking
	holders  map[string]string
	failLock map[string]error
}

var _ app.BookingService = (*BookingService)(nil)

// NewBookingService creates an empty service.
func NewBookingService() *BookingService {
	return &BookingService{
		bookings: make(map[string]*domain.Booking),
		holders:  make(map[string]string),
		failLock: make(map[string]error),
	}
}

// Put stores or replaces a booking.
func (s *BookingService) Put(b domain.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = &b
}

// FailLock makes Lock on bookingID return err until cleared with nil.
func (s *BookingService) FailLock(bookingID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failLock, bookingID)
		return
	}
	s.failLock[bookingID] = err
}

// Holder returns who holds bookingID, if anyone.
func (s *BookingService) Holder(bookingID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holders[bookingID]
}

func (s *BookingService) Get(_ context.Context, bookingID string) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return nil, apperror.NotFound(apperror.CodeBookingNotFound, "booking "+bookingID)
	}
	out := *b
	_, out.Locked = s.holders[bookingID]
	return &out, nil
}

func (s *BookingService) Lock(_ context.Context, bookingID, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.failLock[bookingID]; ok {
		return err
	}
	if _, ok := s.bookings[bookingID]; !ok {
		return apperror.NotFound(apperror.CodeBookingNotFound, "booking "+bookingID)
	}
	if current, ok := s.holders[bookingID]; ok && current != holder {
		return apperror.New(apperror.CodeBookingLockFailed,
			apperror.WithContext(bookingID),
			apperror.WithDetail("holder", current))
	}
	s.holders[bookingID] = holder
	return nil
}

func (s *BookingService) Unlock(_ context.Context, bookingID, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.holders[bookingID]; ok && current == holder {
		delete(s.holders, bookingID)
	}
	return nil
}
