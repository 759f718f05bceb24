package repositories

import (
	"log/slog"
	"school-pickup/domain"
	"school-pickup/errors"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func openDirectory(t *testing.T) DirectoryRepository {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewDirectoryRepository(db, slog.Default())
}

func Test_Seed_Then_Lookup_Participant(t *testing.T) {
	req := require.New(t)
	repository := openDirectory(t)

	// Given the default directory
	req.NoError(repository.Seed())

	// When looking up a staff member
	participant, err := repository.GetParticipant("admin2")

	// Then it is found with its metadata
	req.NoError(err)
	req.Equal(domain.Participant{ID: "admin2", DisplayName: "Mrs. Rodriguez", Role: domain.RoleStaff, Status: domain.StatusOnline}, participant)

	participants, err := repository.ListParticipants()
	req.NoError(err)
	req.Len(participants, len(DefaultParticipants()))
}

func Test_Unknown_Participant(t *testing.T) {
	req := require.New(t)
	repository := openDirectory(t)

	_, err := repository.GetParticipant("nobody")

	req.ErrorIs(err, errors.ErrUnknownParticipant)
}

func Test_Participant_Without_Id_Is_Refused(t *testing.T) {
	req := require.New(t)
	repository := openDirectory(t)

	err := repository.SaveParticipant(domain.Participant{DisplayName: "Ghost"})

	req.ErrorIs(err, errors.ErrMissingIdentity)
}

func Test_Context_Rules_Follow_Stored_Children_And_Locations(t *testing.T) {
	req := require.New(t)
	repository := openDirectory(t)
	req.NoError(repository.Seed())

	// When adding a new location
	req.NoError(repository.SaveLocation(domain.PickupLocation{ID: "bus", Name: "Bus Loop"}))

	// Then rules include the seeded and the new entries
	rules, err := repository.ContextRules()
	req.NoError(err)
	req.True(rules.HasChild("1"))
	req.True(rules.HasChild("2"))
	req.False(rules.HasChild("unknown-id"))
	req.True(rules.HasLocation("front"))
	req.True(rules.HasLocation("bus"))
	req.False(rules.HasLocation("parking"))

	children, err := repository.ListChildren()
	req.NoError(err)
	req.Equal(DefaultChildren(), children)
}

func Test_Legacy_Admin_Role_Is_Read_As_Staff(t *testing.T) {
	req := require.New(t)
	repository := openDirectory(t)

	// Given a participant stored with the legacy role and no status
	req.NoError(repository.put(participantPrefix+"admin9", DiskParticipant{ID: "admin9", DisplayName: "Gate", Role: "admin"}))

	participant, err := repository.GetParticipant("admin9")

	req.NoError(err)
	req.Equal(domain.RoleStaff, participant.Role)
	req.Equal(domain.StatusOnline, participant.Status)
}

func Test_Static_Directory_Serves_Defaults(t *testing.T) {
	req := require.New(t)
	directory := NewStaticDirectory()

	participant, err := directory.GetParticipant("parent2")
	req.NoError(err)
	req.Equal("Lisa Chen", participant.DisplayName)
	req.Equal(domain.StatusAway, participant.Status)

	_, err = directory.GetParticipant("admin9")
	req.ErrorIs(err, errors.ErrUnknownParticipant)

	rules, err := directory.ContextRules()
	req.NoError(err)
	req.True(rules.HasChild("2"))
	req.True(rules.HasLocation("library"))
}

func Test_Passcode_Hash_Is_Stored_For_Known_Participants_Only(t *testing.T) {
	req := require.New(t)
	repository := openDirectory(t)
	req.NoError(repository.Seed())

	// Given a participant without passcode
	_, err := repository.PasscodeHash("parent1")
	req.ErrorIs(err, errors.ErrInvalidCredentials)

	// When storing hashes
	req.NoError(repository.SetPasscodeHash("parent1", "$argon2id$fake"))
	err = repository.SetPasscodeHash("nobody", "$argon2id$fake")

	// Then only the known participant gets one
	req.ErrorIs(err, errors.ErrUnknownParticipant)
	hash, err := repository.PasscodeHash("parent1")
	req.NoError(err)
	req.Equal("$argon2id$fake", hash)
}
