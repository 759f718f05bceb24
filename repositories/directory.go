package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"school-pickup/domain"
	"school-pickup/errors"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

const (
	participantPrefix = "participant:"
	childPrefix       = "child:"
	locationPrefix    = "location:"
	passcodePrefix    = "passcode:"
)

type IDirectoryRepository interface {
	SaveParticipant(p domain.Participant) error
	GetParticipant(id string) (domain.Participant, error)
	ListParticipants() ([]domain.Participant, error)
	SaveChild(c domain.Child) error
	ListChildren() ([]domain.Child, error)
	SaveLocation(l domain.PickupLocation) error
	ListLocations() ([]domain.PickupLocation, error)
	ContextRules() (domain.ContextRules, error)
	SetPasscodeHash(participantID, hash string) error
	PasscodeHash(participantID string) (string, error)
}

// DirectoryRepository stores the people and places of the school in BadgerDB.
// Keys are "{kind}:{id}" so that each kind can be listed with a prefix scan.
type DirectoryRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewDirectoryRepository(db *badger.DB, log *slog.Logger) DirectoryRepository {
	return DirectoryRepository{db: db, log: log}
}

// DiskParticipant is the stored shape of a participant.
type DiskParticipant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Status      string `json:"status"`
}

func (r DirectoryRepository) SaveParticipant(p domain.Participant) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: participant without id", errors.ErrMissingIdentity)
	}
	return r.put(participantPrefix+p.ID, fromParticipant(p))
}

// GetParticipant returns ErrUnknownParticipant when nobody is stored under id.
func (r DirectoryRepository) GetParticipant(id string) (domain.Participant, error) {
	var disk DiskParticipant
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(participantPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &disk)
		})
	})
	if err == badger.ErrKeyNotFound {
		return domain.Participant{}, fmt.Errorf("%w: %s", errors.ErrUnknownParticipant, id)
	}
	if err != nil {
		return domain.Participant{}, err
	}
	return toParticipant(disk), nil
}

func (r DirectoryRepository) ListParticipants() ([]domain.Participant, error) {
	disks, err := list[DiskParticipant](r.db, participantPrefix)
	if err != nil {
		return nil, err
	}
	return lo.Map(disks, func(d DiskParticipant, _ int) domain.Participant { return toParticipant(d) }), nil
}

func (r DirectoryRepository) SaveChild(c domain.Child) error {
	return r.put(childPrefix+c.ID, c)
}

func (r DirectoryRepository) ListChildren() ([]domain.Child, error) {
	return list[domain.Child](r.db, childPrefix)
}

func (r DirectoryRepository) SaveLocation(l domain.PickupLocation) error {
	return r.put(locationPrefix+l.ID, l)
}

func (r DirectoryRepository) ListLocations() ([]domain.PickupLocation, error) {
	return list[domain.PickupLocation](r.db, locationPrefix)
}

// ContextRules lists what drafts may reference: every stored child and location.
func (r DirectoryRepository) ContextRules() (domain.ContextRules, error) {
	children, err := r.ListChildren()
	if err != nil {
		return domain.ContextRules{}, err
	}
	locations, err := r.ListLocations()
	if err != nil {
		return domain.ContextRules{}, err
	}
	return domain.ContextRulesFrom(children, locations), nil
}

// SetPasscodeHash stores the login hash of a known participant.
func (r DirectoryRepository) SetPasscodeHash(participantID, hash string) error {
	if _, err := r.GetParticipant(participantID); err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(passcodePrefix+participantID), []byte(hash))
	})
}

// PasscodeHash returns ErrInvalidCredentials when the participant has no passcode.
func (r DirectoryRepository) PasscodeHash(participantID string) (string, error) {
	var hash string
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(passcodePrefix + participantID))
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		hash = string(value)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return "", fmt.Errorf("%w: no passcode for %s", errors.ErrInvalidCredentials, participantID)
	}
	return hash, err
}

// Seed stores the default school directory. Existing entries with the same id are overwritten.
func (r DirectoryRepository) Seed() error {
	for _, p := range DefaultParticipants() {
		if err := r.SaveParticipant(p); err != nil {
			return err
		}
	}
	for _, c := range DefaultChildren() {
		if err := r.SaveChild(c); err != nil {
			return err
		}
	}
	for _, l := range DefaultLocations() {
		if err := r.SaveLocation(l); err != nil {
			return err
		}
	}
	r.log.Info("Directory seeded",
		"participants", len(DefaultParticipants()),
		"children", len(DefaultChildren()),
		"locations", len(DefaultLocations()))
	return nil
}

func DefaultParticipants() []domain.Participant {
	return []domain.Participant{
		{ID: "admin1", DisplayName: "Front Office", Role: domain.RoleStaff, Status: domain.StatusOnline},
		{ID: "admin2", DisplayName: "Mrs. Rodriguez", Role: domain.RoleStaff, Status: domain.StatusOnline},
		{ID: "parent1", DisplayName: "Mike Johnson", Role: domain.RoleParent, Status: domain.StatusOnline},
		{ID: "parent2", DisplayName: "Lisa Chen", Role: domain.RoleParent, Status: domain.StatusAway},
	}
}

func DefaultChildren() []domain.Child {
	return []domain.Child{
		{ID: "1", FirstName: "Emma", LastName: "Johnson", Grade: "3rd Grade"},
		{ID: "2", FirstName: "Liam", LastName: "Johnson", Grade: "1st Grade"},
	}
}

func DefaultLocations() []domain.PickupLocation {
	return []domain.PickupLocation{
		{ID: "front", Name: "Front Entrance", Description: "Main entrance"},
		{ID: "side", Name: "Side Entrance", Description: "Near playground"},
		{ID: "gym", Name: "Gymnasium", Description: "School gymnasium"},
		{ID: "cafeteria", Name: "Cafeteria", Description: "School cafeteria"},
		{ID: "library", Name: "Library", Description: "School library"},
	}
}

func (r DirectoryRepository) put(key string, value any) error {
	bytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s failed: %w", key, err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// list decodes every value stored under prefix, in key order.
func list[T any](db *badger.DB, prefix string) ([]T, error) {
	var res []T
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			var value T
			err := it.Item().Value(func(b []byte) error {
				return json.Unmarshal(b, &value)
			})
			if err != nil {
				return err
			}
			res = append(res, value)
		}
		return nil
	})
	return res, err
}

func fromParticipant(p domain.Participant) DiskParticipant {
	return DiskParticipant{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Role:        string(p.Role),
		Status:      string(p.Status),
	}
}

func toParticipant(d DiskParticipant) domain.Participant {
	return domain.ParticipantFromMetadata(d.ID, domain.SenderMetadata{
		DisplayName: d.DisplayName,
		Role:        d.Role,
		Status:      d.Status,
	})
}
