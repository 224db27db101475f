package persist

import "empctl/internal/model"

func model42() model.Employee {
	return model.Employee{
		ID:        "42",
		Name:      "Jane Doe",
		FirstName: "Jane",
		LastName:  "Doe",
		Age:       34,
		DOB:       "1990-05-01T00:00:00Z",
		Gender:    model.GenderFemale,
		Phone:     "01234567890",
		Salary:    5000,
		Skills:    []model.Skill{{Name: "Go", Level: model.LevelAdvanced, Years: 5}},
	}
}
