package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/giftcraft/api/internal/domain"
	pfirestore "github.com/giftcraft/api/internal/platform/firestore"
)

const userCollection = "users"

// UserRepository reads user contact data and writes backfilled fields.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil)
	return &UserRepository{base: base}, nil
}

// FindByID loads the user profile by UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserProfile{}, errors.New("user id is required")
	}
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, err
	}
	d := doc.Data
	return domain.UserProfile{
		ID:                doc.ID,
		Name:              d.Name,
		Email:             d.Email,
		Mobile:            d.Mobile,
		IsMobileVerified:  d.IsMobileVerified,
		PreferredLanguage: d.PreferredLanguage,
		Address:           domain.UserAddress(d.Address),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}, nil
}

// Update writes the contact fields the order flow may backfill. Other profile
// fields are left untouched.
func (r *UserRepository) Update(ctx context.Context, profile domain.UserProfile) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	if strings.TrimSpace(profile.ID) == "" {
		return errors.New("profile id is required")
	}
	updatedAt := profile.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return r.base.Update(ctx, profile.ID, []firestore.Update{
		{Path: "mobile", Value: profile.Mobile},
		{Path: "isMobileVerified", Value: profile.IsMobileVerified},
		{Path: "address.pincode", Value: profile.Address.Pincode},
		{Path: "address.state", Value: profile.Address.State},
		{Path: "address.city", Value: profile.Address.City},
		{Path: "address.street", Value: profile.Address.Street},
		{Path: "address.area", Value: profile.Address.Area},
		{Path: "updatedAt", Value: updatedAt},
	})
}

type userDocument struct {
	Name              string              `firestore:"name"`
	Email             string              `firestore:"email"`
	Mobile            string              `firestore:"mobile,omitempty"`
	IsMobileVerified  bool                `firestore:"isMobileVerified"`
	PreferredLanguage string              `firestore:"preferredLanguage,omitempty"`
	Address           userAddressDocument `firestore:"address"`
	UpdatedAt         time.Time           `firestore:"updatedAt"`
}

type userAddressDocument struct {
	Pincode string `firestore:"pincode,omitempty"`
	State   string `firestore:"state,omitempty"`
	City    string `firestore:"city,omitempty"`
	Street  string `firestore:"street,omitempty"`
	Area    string `firestore:"area,omitempty"`
}
